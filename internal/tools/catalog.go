package tools

import (
	"context"
	"log/slog"

	"github.com/hlibko/vika-voice-agent/internal/knowledge"
	"github.com/hlibko/vika-voice-agent/internal/order"
	"github.com/hlibko/vika-voice-agent/internal/store"
)

// Backend is the slice of the store API the tool handlers need.
// *store.Client satisfies it.
type Backend interface {
	SearchTires(ctx context.Context, q store.TireQuery) ([]store.Tire, error)
	TireDetails(ctx context.Context, sku string) (*store.Tire, error)
	CreateOrderDraft(ctx context.Context, sku string, quantity int, phone string) (*store.OrderDraft, error)
	SetDelivery(ctx context.Context, d store.Delivery) error
	ConfirmOrder(ctx context.Context, orderID string) (*store.Confirmation, error)
	FittingSlots(ctx context.Context, date, location string) ([]store.FittingSlot, error)
	BookFitting(ctx context.Context, slotID, orderID string) (*store.Booking, error)
	NotifyOperator(ctx context.Context, callID, reason string) error
}

// KnowledgeBase answers free-text policy questions.
// *knowledge.Store satisfies it.
type KnowledgeBase interface {
	Lookup(query string, limit int) ([]*knowledge.Entry, error)
}

// NewCatalog builds a registry with the full built-in tool set wired
// to the store backend and knowledge base.
func NewCatalog(backend Backend, kb KnowledgeBase, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.registerSearchTires(backend)
	r.registerTireDetails(backend)
	r.registerCreateOrderDraft(backend)
	r.registerUpdateOrderDelivery(backend)
	r.registerConfirmOrder(backend)
	r.registerFittingSlots(backend)
	r.registerBookFitting(backend)
	r.registerLookupKnowledge(kb)
	r.registerTransferToOperator(backend)
	return r
}

func (r *Registry) registerSearchTires(backend Backend) {
	r.Register(&Tool{
		Name:        NameSearchTires,
		Description: "Search the tire catalog by size and season. Returns matching tires with price and stock. Ask the caller for width, profile and diameter before searching.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"width": map[string]any{
					"type":        "integer",
					"description": "Tire width in mm, e.g. 205.",
				},
				"profile": map[string]any{
					"type":        "integer",
					"description": "Aspect ratio, e.g. 55.",
				},
				"diameter": map[string]any{
					"type":        "integer",
					"description": "Rim diameter in inches, e.g. 16.",
				},
				"season": map[string]any{
					"type":        "string",
					"enum":        []string{"summer", "winter", "all_season"},
					"description": "Optional season filter.",
				},
				"brand": map[string]any{
					"type":        "string",
					"description": "Optional brand filter.",
				},
			},
			"required": []string{"width", "profile", "diameter"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			q := store.TireQuery{
				Width:    intArg(args, "width"),
				Profile:  intArg(args, "profile"),
				Diameter: intArg(args, "diameter"),
				Season:   strArg(args, "season"),
				Brand:    strArg(args, "brand"),
			}
			tires, err := backend.SearchTires(ctx, q)
			if err != nil {
				return nil, err
			}
			if len(tires) == 0 {
				return map[string]any{"results": []store.Tire{}, "message": "No tires match this size."}, nil
			}
			return map[string]any{"results": tires}, nil
		},
	})
}

func (r *Registry) registerTireDetails(backend Backend) {
	r.Register(&Tool{
		Name:        NameTireDetails,
		Description: "Get full details for one tire by SKU, including current price and stock.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sku": map[string]any{
					"type":        "string",
					"description": "Tire SKU from a previous search.",
				},
			},
			"required": []string{"sku"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return backend.TireDetails(ctx, strArg(args, "sku"))
		},
	})
}

func (r *Registry) registerCreateOrderDraft(backend Backend) {
	r.Register(&Tool{
		Name:        NameCreateOrderDraft,
		Description: "Create an order draft for a tire the caller chose. Requires SKU, quantity and the caller's phone number. Ask for the phone number, never invent it.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sku": map[string]any{
					"type":        "string",
					"description": "Tire SKU to order.",
				},
				"quantity": map[string]any{
					"type":        "integer",
					"description": "Number of tires, usually 2 or 4.",
				},
				"phone": map[string]any{
					"type":        "string",
					"description": "Caller's contact phone number.",
				},
			},
			"required": []string{"sku", "quantity", "phone"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			draft, err := backend.CreateOrderDraft(ctx, strArg(args, "sku"), intArg(args, "quantity"), strArg(args, "phone"))
			if err != nil {
				return nil, err
			}
			if st := StateFromContext(ctx); st != nil {
				st.SetStage(order.StageDraft)
			}
			return draft, nil
		},
	})
}

func (r *Registry) registerUpdateOrderDelivery(backend Backend) {
	r.Register(&Tool{
		Name:        NameUpdateOrderDelivery,
		Description: "Set the delivery method and address on the current order draft.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{
					"type":        "string",
					"description": "Order id from create_order_draft.",
				},
				"method": map[string]any{
					"type":        "string",
					"enum":        []string{"pickup", "courier", "nova_poshta"},
					"description": "Delivery method.",
				},
				"address": map[string]any{
					"type":        "string",
					"description": "Delivery address. Required for courier and nova_poshta.",
				},
			},
			"required": []string{"order_id", "method"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			d := store.Delivery{
				OrderID: strArg(args, "order_id"),
				Method:  strArg(args, "method"),
				Address: strArg(args, "address"),
			}
			if err := backend.SetDelivery(ctx, d); err != nil {
				return nil, err
			}
			if st := StateFromContext(ctx); st != nil {
				st.SetStage(order.StageDeliverySet)
			}
			return map[string]any{"status": "delivery_set", "order_id": d.OrderID}, nil
		},
	})
}

func (r *Registry) registerConfirmOrder(backend Backend) {
	r.Register(&Tool{
		Name:        NameConfirmOrder,
		Description: "Finalize the order. Call this ONLY after you read the full order summary aloud and the caller explicitly agreed to it.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{
					"type":        "string",
					"description": "Order id to confirm.",
				},
			},
			"required": []string{"order_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			conf, err := backend.ConfirmOrder(ctx, strArg(args, "order_id"))
			if err != nil {
				return nil, err
			}
			if st := StateFromContext(ctx); st != nil {
				st.SetStage(order.StageConfirmed)
			}
			return conf, nil
		},
	})
}

func (r *Registry) registerFittingSlots(backend Backend) {
	r.Register(&Tool{
		Name:        NameFittingSlots,
		Description: "List available tire fitting appointment slots for a date.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "Date in YYYY-MM-DD format.",
				},
				"location": map[string]any{
					"type":        "string",
					"description": "Optional branch location filter.",
				},
			},
			"required": []string{"date"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			slots, err := backend.FittingSlots(ctx, strArg(args, "date"), strArg(args, "location"))
			if err != nil {
				return nil, err
			}
			if len(slots) == 0 {
				return map[string]any{"slots": []store.FittingSlot{}, "message": "No free slots on this date."}, nil
			}
			return map[string]any{"slots": slots}, nil
		},
	})
}

func (r *Registry) registerBookFitting(backend Backend) {
	r.Register(&Tool{
		Name:        NameBookFitting,
		Description: "Book a fitting appointment slot for a confirmed order.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"slot_id": map[string]any{
					"type":        "string",
					"description": "Slot id from get_fitting_slots.",
				},
				"order_id": map[string]any{
					"type":        "string",
					"description": "Confirmed order id.",
				},
			},
			"required": []string{"slot_id", "order_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			booking, err := backend.BookFitting(ctx, strArg(args, "slot_id"), strArg(args, "order_id"))
			if err != nil {
				return nil, err
			}
			if st := StateFromContext(ctx); st != nil {
				st.MarkFittingBooked()
			}
			return booking, nil
		},
	})
}

func (r *Registry) registerLookupKnowledge(kb KnowledgeBase) {
	r.Register(&Tool{
		Name:        NameLookupKnowledge,
		Description: "Look up shop policies: warranty, returns, payment options, seasonal storage, working hours. Use for any question not answered by the catalog.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Keywords describing the question.",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			entries, err := kb.Lookup(strArg(args, "query"), 5)
			if err != nil {
				return nil, err
			}
			if len(entries) == 0 {
				return map[string]any{"entries": []any{}, "message": "Nothing found. Offer to transfer to an operator."}, nil
			}
			results := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				results = append(results, map[string]any{
					"topic":   e.Topic,
					"content": e.Content,
				})
			}
			return map[string]any{"entries": results}, nil
		},
	})
}

func (r *Registry) registerTransferToOperator(backend Backend) {
	r.Register(&Tool{
		Name:        NameTransferToOperator,
		Description: "Hand the call over to a human operator. Use when the caller asks for a human or when you cannot help.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Short reason for the transfer.",
				},
			},
			"required": []string{"reason"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			callID := CallIDFromContext(ctx)
			if err := backend.NotifyOperator(ctx, callID, strArg(args, "reason")); err != nil {
				return nil, err
			}
			return map[string]any{"status": "transfer_requested", "call_id": callID}, nil
		},
	})
}

// strArg reads a string argument, tolerating absence.
func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg reads an integer argument. JSON numbers decode as float64,
// so both forms are accepted.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
