// Package prescriptionid formats and parses the 17-digit structured
// prescription id: NNN.NNN.NNN.NNN.NNN.NN, where the leading triple is the
// flow type, the middle twelve digits are a timestamp-derived sequence
// number, and the trailing pair is an ISO-7064-style mod-97 checksum.
package prescriptionid

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/gematik/erezept-fachdienst/pkg/types"
)

// maxTimestamp bounds the seconds-since-epoch counter to 10^10 seconds,
// matching the wire format's available digit budget.
const maxTimestamp = 10_000_000_000

// maxCounter bounds the per-second sequence counter; once exhausted within
// the same second, Generate fails rather than overflow into the next
// timestamp's range.
const maxCounter = 100

// epoch is the reference point prescription-id timestamps count from.
var epoch = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)

var wireFormat = regexp.MustCompile(`^([0-9]{3})\.([0-9]{3})\.([0-9]{3})\.([0-9]{3})\.([0-9]{3})\.([0-9]{2})$`)

// ID is a parsed, validated prescription id.
type ID struct {
	FlowType types.FlowType
	Number   uint64
}

// New constructs an ID from already-known parts without validating the
// checksum — used when building an id to format, not when parsing one.
func New(flowType types.FlowType, number uint64) ID {
	return ID{FlowType: flowType, Number: number}
}

var (
	genMu           sync.Mutex
	lastTimestamp   uint64
	lastCounter     uint64
)

// Generate produces a fresh ID for the given flow type, deriving its
// sequence number from the current time and a per-second counter so that
// ids minted within the same process are strictly increasing and never
// collide. Returns an error if more than maxCounter ids are requested
// within the same second.
func Generate(flowType types.FlowType) (ID, error) {
	genMu.Lock()
	defer genMu.Unlock()

	ts := timestamp(time.Now())

	var counter uint64
	if ts != lastTimestamp {
		lastTimestamp = ts
		lastCounter = 0
		counter = 0
	} else {
		lastCounter++
		if lastCounter >= maxCounter {
			return ID{}, fmt.Errorf("prescriptionid: exceeded %d ids in one second", maxCounter)
		}
		counter = lastCounter
	}

	number := ts*maxCounter + counter
	return New(flowType, number), nil
}

func timestamp(now time.Time) uint64 {
	elapsed := uint64(now.Sub(epoch).Seconds())
	return elapsed % maxTimestamp
}

// String renders the id in its canonical wire format.
func (id ID) String() string {
	code := uint64(id.FlowType)
	n := id.Number
	checksum := calcChecksum(code*1_000_000_000_000 + n)

	return fmt.Sprintf("%03d.%03d.%03d.%03d.%03d.%02d",
		code,
		n/1_000_000_000%1000,
		n/1_000_000%1000,
		n/1_000%1000,
		n%1000,
		checksum,
	)
}

// Parse parses and checksum-validates a wire-format prescription id.
func Parse(s string) (ID, error) {
	m := wireFormat.FindStringSubmatch(s)
	if m == nil {
		return ID{}, fmt.Errorf("prescriptionid: invalid format %q", s)
	}

	parts := make([]uint64, 6)
	for i, g := range m[1:] {
		v, err := strconv.ParseUint(g, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("prescriptionid: %w", err)
		}
		parts[i] = v
	}

	flowType := types.FlowType(parts[0])
	if !flowType.Valid() {
		return ID{}, fmt.Errorf("prescriptionid: unknown flow type %d", parts[0])
	}

	number := parts[1]*1_000_000_000 + parts[2]*1_000_000 + parts[3]*1_000 + parts[4]
	checksum := parts[5]

	value := 100_000_000_000_000*uint64(flowType) + 100*number + checksum
	if !verifyChecksum(value) {
		return ID{}, fmt.Errorf("prescriptionid: bad checksum in %q", s)
	}

	return New(flowType, number), nil
}

// calcChecksum computes the mod-97 check digits for value*100.
func calcChecksum(value uint64) uint64 {
	const modulo = 97
	rest := (value * 100) % modulo
	return (modulo + 1) - rest
}

// verifyChecksum reports whether value (already including its trailing
// checksum digits) satisfies the mod-97 invariant.
func verifyChecksum(value uint64) bool {
	const modulo = 97
	return value%modulo == 1
}
