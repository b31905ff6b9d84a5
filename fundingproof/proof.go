/*
This file implements the funding proof and its binary layout.

The proof is the artifact layer 2 verifies before crediting an identity:
which layer-1 tx committed the funds, which output is the commitment, and
one piece of finality evidence - either the quorum fast-finality lock or
the normal confirmation height. The byte layout is fixed; re-assembling
from identical inputs yields identical bytes.

Layout (all integers little-endian):

	version      1 byte  (0x01)
	proof type   1 byte  (0x01 fast lock, 0x02 confirmation)
	tx id        32 bytes
	output index 4 bytes
	fast lock:     quorum hash 32 bytes, sig length 2 bytes, sig bytes
	confirmation:  height 4 bytes
*/
package fundingproof

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/crosslayer/funding-go/agreement"
)

const (
	ProofVersion = byte(0x01)

	ProofTypeFastLock     = byte(0x01)
	ProofTypeConfirmation = byte(0x02)
)

// ErrNoFinalitySource is the assembler's only failure. The coordinator's
// state machine makes it unreachable; hitting it is a defect to
// investigate, not a user-facing condition.
var ErrNoFinalitySource = errors.New("funding proof needs a fast lock or a confirmation height")

var errProofMalformed = errors.New("malformed funding proof bytes")

// FundingProof is what the layer-2 platform consumes as evidence of payment.
// Exactly one of Lock / (ConfirmationHeight, HeightValid) is set.
type FundingProof struct {
	TxId        chainhash.Hash
	OutputIndex uint32

	Lock               *agreement.FastFinalityLock
	ConfirmationHeight int32
	HeightValid        bool
}

// Assemble is a pure function of its inputs. When both finality sources
// are offered, the fast lock wins (it is the stronger evidence and the
// common case); the height is dropped from the proof.
func Assemble(
	txId chainhash.Hash,
	outputIndex uint32,
	lock *agreement.FastFinalityLock,
	confirmationHeight int32,
	heightValid bool,
) (*FundingProof, error) {
	if lock == nil && !heightValid {
		return nil, ErrNoFinalitySource
	}

	p := &FundingProof{
		TxId:        txId,
		OutputIndex: outputIndex,
	}
	if lock != nil {
		p.Lock = lock
		return p, nil
	}
	p.ConfirmationHeight = confirmationHeight
	p.HeightValid = true
	return p, nil
}

// Serialize produces the canonical byte form.
// The lock's ObservedAt is observation metadata and is not part of it.
func (p *FundingProof) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(ProofVersion)

	switch {
	case p.Lock != nil:
		buf.WriteByte(ProofTypeFastLock)
	case p.HeightValid:
		buf.WriteByte(ProofTypeConfirmation)
	default:
		return nil, ErrNoFinalitySource
	}

	buf.Write(p.TxId[:])
	if err := binary.Write(&buf, binary.LittleEndian, p.OutputIndex); err != nil {
		return nil, err
	}

	if p.Lock != nil {
		buf.Write(p.Lock.QuorumHash[:])
		if len(p.Lock.QuorumSignature) > 0xffff {
			return nil, fmt.Errorf("quorum signature too long: %d bytes", len(p.Lock.QuorumSignature))
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint16(len(p.Lock.QuorumSignature))); err != nil {
			return nil, err
		}
		buf.Write(p.Lock.QuorumSignature)
		return buf.Bytes(), nil
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(p.ConfirmationHeight)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize parses canonical proof bytes back into a FundingProof.
func Deserialize(raw []byte) (*FundingProof, error) {
	r := bytes.NewReader(raw)

	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errProofMalformed
	}
	if header[0] != ProofVersion {
		return nil, fmt.Errorf("unsupported proof version 0x%02x", header[0])
	}

	p := &FundingProof{}
	if _, err := io.ReadFull(r, p.TxId[:]); err != nil {
		return nil, errProofMalformed
	}
	if err := binary.Read(r, binary.LittleEndian, &p.OutputIndex); err != nil {
		return nil, errProofMalformed
	}

	switch header[1] {
	case ProofTypeFastLock:
		lock := &agreement.FastFinalityLock{TxId: p.TxId}
		if _, err := io.ReadFull(r, lock.QuorumHash[:]); err != nil {
			return nil, errProofMalformed
		}
		var sigLen uint16
		if err := binary.Read(r, binary.LittleEndian, &sigLen); err != nil {
			return nil, errProofMalformed
		}
		lock.QuorumSignature = make([]byte, sigLen)
		if _, err := io.ReadFull(r, lock.QuorumSignature); err != nil {
			return nil, errProofMalformed
		}
		p.Lock = lock
	case ProofTypeConfirmation:
		var height uint32
		if err := binary.Read(r, binary.LittleEndian, &height); err != nil {
			return nil, errProofMalformed
		}
		p.ConfirmationHeight = int32(height)
		p.HeightValid = true
	default:
		return nil, fmt.Errorf("unknown proof type 0x%02x", header[1])
	}

	if r.Len() != 0 {
		return nil, errProofMalformed
	}
	return p, nil
}
