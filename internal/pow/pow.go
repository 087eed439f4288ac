// Package pow implements NIP-13 proof-of-work mining and verification:
// finding a nonce such that an event's id has a given number of leading
// zero bits.
package pow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/humansinstitute/nostrMQ/internal/nmqerr"
)

// MinDifficulty and MaxDifficulty bound the accepted NIP-13 bit targets.
const (
	MinDifficulty = 0
	MaxDifficulty = 32
)

// ValidateDifficulty reports whether bits is an acceptable PoW target.
func ValidateDifficulty(bits int) error {
	if bits < MinDifficulty || bits > MaxDifficulty {
		return nmqerr.New(nmqerr.InvalidArgument, fmt.Sprintf("pow difficulty %d out of range [%d,%d]", bits, MinDifficulty, MaxDifficulty))
	}
	return nil
}

// CountLeadingZeroBits returns the number of leading zero bits in a
// hex-encoded digest, per NIP-13.
func CountLeadingZeroBits(hexDigest string) int {
	count := 0
	for _, c := range hexDigest {
		var nibble int
		switch {
		case c >= '0' && c <= '9':
			nibble = int(c - '0')
		case c >= 'a' && c <= 'f':
			nibble = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			nibble = int(c-'A') + 10
		default:
			return count
		}
		if nibble == 0 {
			count += 4
			continue
		}
		switch {
		case nibble >= 8:
			// top bit set, 0 extra bits
		case nibble >= 4:
			count++
		case nibble >= 2:
			count += 2
		default:
			count += 3
		}
		return count
	}
	return count
}

// HasValidPow reports whether ev's id has at least the requested number of
// leading zero bits and carries a matching NIP-13 nonce tag.
func HasValidPow(ev *nostr.Event, minBits int) bool {
	id := ev.GetID()
	if id != ev.ID {
		return false
	}
	return CountLeadingZeroBits(id) >= minBits
}

// CommittedDifficulty returns the target bit count an event's nonce tag
// claims, or -1 if the event carries no nonce tag.
func CommittedDifficulty(ev *nostr.Event) int {
	for _, tag := range ev.Tags {
		if len(tag) >= 3 && tag[0] == "nonce" {
			if target, err := strconv.Atoi(tag[2]); err == nil {
				return target
			}
		}
	}
	return -1
}

// Result is the outcome of a successful mining run.
type Result struct {
	Nonce      uint64
	ID         string
	Difficulty int
}

// Mine searches for a nonce value that gives template's event id at least
// targetBits leading zero bits, appending a NIP-13 nonce tag to the
// winning copy. It fans the search out across workers goroutines, each
// striding through the nonce space, and stops at the first winner or
// when ctx is canceled.
func Mine(ctx context.Context, template *nostr.Event, targetBits, workers int) (*nostr.Event, *Result, error) {
	if err := ValidateDifficulty(targetBits); err != nil {
		return nil, nil, err
	}
	if workers < 1 {
		workers = 1
	}
	if targetBits == 0 {
		cp := *template
		cp.Tags = append(nostr.Tags{}, template.Tags...)
		id := cp.GetID()
		cp.ID = id
		return &cp, &Result{ID: id, Difficulty: CountLeadingZeroBits(id)}, nil
	}

	type winner struct {
		ev     *nostr.Event
		result *Result
	}

	found := make(chan winner, 1)
	mineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for w := 0; w < workers; w++ {
		go func(start uint64) {
			cp := *template
			cp.Tags = append(nostr.Tags{}, template.Tags...)
			nonceIdx := len(cp.Tags)
			cp.Tags = append(cp.Tags, nostr.Tag{"nonce", "0", strconv.Itoa(targetBits)})

			for nonce := start; ; nonce += uint64(workers) {
				select {
				case <-mineCtx.Done():
					return
				default:
				}

				cp.Tags[nonceIdx] = nostr.Tag{"nonce", strconv.FormatUint(nonce, 10), strconv.Itoa(targetBits)}
				id := cp.GetID()
				if CountLeadingZeroBits(id) >= targetBits {
					winEv := cp
					winEv.ID = id
					winEv.Tags = append(nostr.Tags{}, cp.Tags...)
					select {
					case found <- winner{ev: &winEv, result: &Result{Nonce: nonce, ID: id, Difficulty: CountLeadingZeroBits(id)}}:
						cancel()
					default:
					}
					return
				}
			}
		}(uint64(w))
	}

	select {
	case w := <-found:
		return w.ev, w.result, nil
	case <-ctx.Done():
		return nil, nil, nmqerr.Wrap(nmqerr.PowTimeout, "mining deadline exceeded", ctx.Err())
	}
}
