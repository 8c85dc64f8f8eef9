package prompts

// EmptyResponseFallback is the utterance played to the caller when a
// turn produces no text, typically after a backend failure. Spoken by
// TTS, so it stays short and apologetic.
const EmptyResponseFallback = "Вибачте, у мене виникла технічна затримка. Повторіть, будь ласка, ще раз."
