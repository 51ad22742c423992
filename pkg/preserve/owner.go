package preserve

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// OwnerKind is the closed set of entity kinds that may own an ingest
// record. The string value is the wire form carried in the pass-through
// envelope.
type OwnerKind string

// Owner kind constants (typed).
const (
	OwnerKindBitstream OwnerKind = "Bitstream"
)

// OwnerRef correlates a queue response back to its originating entity
// without a hard foreign key; the entity may already be gone when the
// response arrives.
type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// PassThrough is the wire form of an OwnerRef, echoed back verbatim by the
// remote archive.
type PassThrough struct {
	Class      string `json:"class"`
	Identifier string `json:"identifier"`
}

// PassThrough converts the reference to its wire form.
func (o OwnerRef) PassThrough() PassThrough {
	return PassThrough{Class: string(o.Kind), Identifier: o.ID.String()}
}

// OwnerRefFromPassThrough parses an echoed pass-through envelope. Unknown
// classes are rejected rather than resolved dynamically.
func OwnerRefFromPassThrough(pt PassThrough) (OwnerRef, error) {
	switch OwnerKind(pt.Class) {
	case OwnerKindBitstream:
		id, err := uuid.Parse(pt.Identifier)
		if err != nil {
			return OwnerRef{}, fmt.Errorf("invalid pass-through identifier %q: %w", pt.Identifier, err)
		}
		return OwnerRef{Kind: OwnerKindBitstream, ID: id}, nil
	default:
		return OwnerRef{}, fmt.Errorf("unknown pass-through class %q", pt.Class)
	}
}

// ResolveOwnerBitstream loads the bitstream an owner reference points at.
// Returns ErrBitstreamNotFound when the entity no longer exists, and an
// error for non-bitstream kinds (none exist today, but the wire format
// allows them).
func ResolveOwnerBitstream(ctx context.Context, repo Repository, ref OwnerRef) (*Bitstream, error) {
	switch ref.Kind {
	case OwnerKindBitstream:
		return repo.GetBitstream(ctx, ref.ID)
	default:
		return nil, fmt.Errorf("owner kind %q does not resolve to a bitstream", ref.Kind)
	}
}
