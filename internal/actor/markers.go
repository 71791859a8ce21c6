package actor

// InputBase can be embedded into input structs to satisfy Input.
type InputBase struct{}

// isActorInput implements Input.
func (InputBase) isActorInput() {}

// EffectBase can be embedded into effect structs to satisfy Effect.
type EffectBase struct{}

// isActorEffect implements Effect.
func (EffectBase) isActorEffect() {}
