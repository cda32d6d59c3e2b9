package entity

// Reference pairs a pronoun with the entity it most plausibly refers to.
type Reference struct {
	Pronoun  string
	Referent Entity
}

// referable entity types; colors and numbers are attributes, not referents.
var referable = map[Type]bool{
	TypeComponent: true,
	TypeFile:      true,
	TypeFeature:   true,
	TypeTerm:      true,
}

// References resolves pronouns in text. The nearest referable entity earlier
// in the same text wins; otherwise the last referable entity of previous is
// used.
func References(previous, text string) []Reference {
	var fallback *Entity
	prev := Extract(previous)
	for i := len(prev) - 1; i >= 0; i-- {
		if referable[prev[i].Type] {
			fallback = &prev[i]
			break
		}
	}

	tokens := tokenize(text)
	ents := extract(tokens)

	var out []Reference
	for i, t := range tokens {
		if !pronouns[t.lower] {
			continue
		}
		var ref *Entity
		for k := len(ents) - 1; k >= 0; k-- {
			if ents[k].end < i && referable[ents[k].Type] {
				ref = &ents[k]
				break
			}
		}
		if ref == nil {
			ref = fallback
		}
		if ref != nil {
			out = append(out, Reference{Pronoun: t.lower, Referent: *ref})
		}
	}
	return out
}
