package rtoken

import (
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"
)

// maxHatRecipients bounds the size of a single distribution policy so splits
// stay cheap and weight sums stay far from overflow.
const maxHatRecipients = 50

// HatFingerprint is the content address of a normalized (recipients,
// proportions) pair. Identical pairs, order included, always map to the same
// fingerprint and therefore to the same hat id.
type HatFingerprint [32]byte

func fingerprintHat(recipients []Address, proportions []uint32) HatFingerprint {
	h := blake3.New(32, nil)
	var buf [4]byte
	for i, r := range recipients {
		_, _ = h.Write(r[:])
		binary.BigEndian.PutUint32(buf[:], proportions[i])
		_, _ = h.Write(buf[:])
	}
	var fp HatFingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// validateHat rejects malformed recipient and weight lists before any state
// is touched.
func validateHat(recipients []Address, proportions []uint32) error {
	if len(recipients) == 0 {
		return fmt.Errorf("%w: empty recipient list", ErrInvalidHat)
	}
	if len(recipients) != len(proportions) {
		return fmt.Errorf("%w: %d recipients with %d proportions", ErrInvalidHat, len(recipients), len(proportions))
	}
	if len(recipients) > maxHatRecipients {
		return fmt.Errorf("%w: %d recipients exceeds limit of %d", ErrInvalidHat, len(recipients), maxHatRecipients)
	}
	seen := make(map[Address]struct{}, len(recipients))
	nonzero := false
	for i, r := range recipients {
		if r.IsZero() {
			return fmt.Errorf("%w: zero recipient address at index %d", ErrInvalidHat, i)
		}
		if _, ok := seen[r]; ok {
			return fmt.Errorf("%w: duplicate recipient %s", ErrInvalidHat, r)
		}
		seen[r] = struct{}{}
		if proportions[i] > 0 {
			nonzero = true
		}
	}
	if !nonzero {
		return fmt.Errorf("%w: all proportions are zero", ErrInvalidHat)
	}
	return nil
}

// GetOrCreateHat resolves a (recipients, proportions) pair to its hat id,
// allocating a fresh id for pairs the registry has not seen before. The
// resolution is deterministic: the pair is content addressed, so resubmitting
// it always yields the id of the first submission.
func (e *Engine) GetOrCreateHat(recipients []Address, proportions []uint32) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getOrCreateHatLocked(recipients, proportions)
}

func (e *Engine) getOrCreateHatLocked(recipients []Address, proportions []uint32) (uint64, error) {
	if err := validateHat(recipients, proportions); err != nil {
		return 0, err
	}
	fp := fingerprintHat(recipients, proportions)
	if id, ok, err := e.state.HatIDByFingerprint(fp); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}
	seq, err := e.state.HatSequence()
	if err != nil {
		return 0, err
	}
	id := seq + 1
	hat := &Hat{
		ID:          id,
		Recipients:  append([]Address(nil), recipients...),
		Proportions: append([]uint32(nil), proportions...),
	}
	if err := e.state.PutHat(hat); err != nil {
		return 0, err
	}
	if err := e.state.IndexHat(fp, id); err != nil {
		return 0, err
	}
	if err := e.state.SetHatSequence(id); err != nil {
		return 0, err
	}
	e.emit(HatCreated{ID: id, Recipients: hat.Recipients, Proportions: hat.Proportions})
	return id, nil
}

// DescribeHat returns a copy of the stored hat. The self hat sentinel has no
// stored record and resolves to nil recipients.
func (e *Engine) DescribeHat(id uint64) (*Hat, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == SelfHatID {
		return &Hat{ID: SelfHatID}, nil
	}
	hat, err := e.state.GetHat(id)
	if err != nil {
		return nil, err
	}
	if hat == nil {
		return nil, fmt.Errorf("%w: id %d", ErrHatNotFound, id)
	}
	return hat.Clone(), nil
}

// effectiveHat resolves the hat an account's principal is routed through.
// The self hat materializes as a single-recipient policy naming the account.
func (e *Engine) effectiveHat(acc *Account) (*Hat, error) {
	if acc.HatID == SelfHatID {
		return &Hat{ID: SelfHatID, Recipients: []Address{acc.Address}, Proportions: []uint32{1}}, nil
	}
	hat, err := e.state.GetHat(acc.HatID)
	if err != nil {
		return nil, err
	}
	if hat == nil {
		return nil, fmt.Errorf("%w: account %s references hat %d", ErrHatNotFound, acc.Address, acc.HatID)
	}
	return hat, nil
}
