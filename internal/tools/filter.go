package tools

import (
	"github.com/hlibko/vika-voice-agent/internal/llm"
	"github.com/hlibko/vika-voice-agent/internal/order"
)

// FilterByState computes the tool subset visible to the model given
// the current business state. Hiding an invalid action from the
// model's menu is a stronger guarantee than a prompt instruction: the
// model cannot select a tool it never sees.
//
// The order-stage rule and the fitting-booked rule apply independently
// and cumulatively:
//
//   - no order or draft only → confirm_order hidden
//   - order confirmed → create_order_draft, update_order_delivery and
//     confirm_order hidden
//   - delivery set → full order tool set visible
//   - fitting already booked → book_fitting and get_fitting_slots hidden
//
// Pure function: no I/O, the input slice is not mutated.
func FilterByState(descs []llm.ToolDescriptor, stage order.Stage, fittingBooked bool) []llm.ToolDescriptor {
	excluded := make(map[string]bool, 5)

	switch stage {
	case order.StageNone, order.StageDraft:
		excluded[NameConfirmOrder] = true
	case order.StageConfirmed:
		excluded[NameCreateOrderDraft] = true
		excluded[NameUpdateOrderDelivery] = true
		excluded[NameConfirmOrder] = true
	case order.StageDeliverySet:
		// Full order tool set visible.
	}

	if fittingBooked {
		excluded[NameBookFitting] = true
		excluded[NameFittingSlots] = true
	}

	visible := make([]llm.ToolDescriptor, 0, len(descs))
	for _, d := range descs {
		if !excluded[d.Name] {
			visible = append(visible, d)
		}
	}
	return visible
}
