package merkletree

import (
	"encoding/json"
	"fmt"
)

// Side identifies which side of a parent node a sibling occupies.
type Side int

const (
	Left Side = iota
	Right
)

// ProofElement is a single sibling hash on the path from a leaf to the root.
type ProofElement struct {
	Sibling Hash
	Side    Side
}

// MarshalJSON renders a ProofElement as spec.md §6 requires: a single-key
// object, `{"Left": "<hex>"}` or `{"Right": "<hex>"}`.
func (p ProofElement) MarshalJSON() ([]byte, error) {
	key := "Left"
	if p.Side == Right {
		key = "Right"
	}
	return json.Marshal(map[string]string{key: p.Sibling.Hex()})
}

// UnmarshalJSON accepts the same single-key shape MarshalJSON produces.
func (p *ProofElement) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if v, ok := m["Left"]; ok {
		h, err := HashFromHex(v)
		if err != nil {
			return err
		}
		*p = ProofElement{Sibling: h, Side: Left}
		return nil
	}
	if v, ok := m["Right"]; ok {
		h, err := HashFromHex(v)
		if err != nil {
			return err
		}
		*p = ProofElement{Sibling: h, Side: Right}
		return nil
	}
	return fmt.Errorf("merkletree: proof element missing Left/Right key")
}

// Proof is an ordered path of sibling hashes, leaf-adjacent element first,
// root-adjacent element last.
type Proof []ProofElement
