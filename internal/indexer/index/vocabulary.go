package index

// Vocabulary maps every indexed term to a dense position in [0, Len()).
// Positions follow the order in which terms were first inserted.
type Vocabulary struct {
	positions map[string]int
	terms     []string
}

func newVocabulary(capacity int) *Vocabulary {
	return &Vocabulary{
		positions: make(map[string]int, capacity),
		terms:     make([]string, 0, capacity),
	}
}

func (v *Vocabulary) add(term string) int {
	if pos, ok := v.positions[term]; ok {
		return pos
	}
	pos := len(v.terms)
	v.positions[term] = pos
	v.terms = append(v.terms, term)
	return pos
}

func (v *Vocabulary) Position(term string) (int, bool) {
	pos, ok := v.positions[term]
	return pos, ok
}

func (v *Vocabulary) Term(pos int) (string, bool) {
	if pos < 0 || pos >= len(v.terms) {
		return "", false
	}
	return v.terms[pos], true
}

func (v *Vocabulary) Len() int {
	return len(v.terms)
}

// Terms returns the terms ordered by position.
func (v *Vocabulary) Terms() []string {
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}
