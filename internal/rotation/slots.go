package rotation

// SlotMap resolves the spell/aura names a script refers to into the
// dense array indices the sim kernel's Context implementation keys on,
// so a compiled condition resolves to an array index and compare,
// never a dictionary probe.
type SlotMap struct {
	Cooldowns map[string]int
	Auras     map[string]int
}

// NewSlotMap builds an empty map; callers register names in the order
// their capability record assigns SpellIdx/AuraIdx values.
func NewSlotMap() *SlotMap {
	return &SlotMap{Cooldowns: map[string]int{}, Auras: map[string]int{}}
}

func (m *SlotMap) RegisterCooldown(name string, idx int) {
	m.Cooldowns[name] = idx
}

func (m *SlotMap) RegisterAura(name string, idx int) {
	m.Auras[name] = idx
}

func (m *SlotMap) cooldownSlot(name string) (int, bool) {
	idx, ok := m.Cooldowns[name]
	return idx, ok
}

func (m *SlotMap) auraSlot(name string) (int, bool) {
	idx, ok := m.Auras[name]
	return idx, ok
}
