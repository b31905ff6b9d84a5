package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/crosslayer/funding-go/agreement"
	"github.com/crosslayer/funding-go/common"
)

// RequestStatus is the phase a funding request currently sits in.
type RequestStatus string

const (
	StatusCreated       RequestStatus = "created"        // caller handed us the intent
	StatusUtxosSelected RequestStatus = "utxos_selected" // selection reserved in the vault
	StatusSigned        RequestStatus = "signed"         // external signer returned
	StatusBroadcast     RequestStatus = "broadcast"      // on the wire, reservations consumed
	StatusAwaitingLock  RequestStatus = "awaiting_lock"  // lock monitor running
	StatusLocked        RequestStatus = "locked"         // finality evidence in hand
	StatusProofReady    RequestStatus = "proof_ready"    // proof assembled, not yet submitted
	StatusFunded        RequestStatus = "funded"         // layer 2 credited the identity
	StatusFailed        RequestStatus = "failed"         // terminal, reason recorded
	StatusTimedOut      RequestStatus = "timed_out"      // terminal, neither finality source in time
)

// statusRank orders the forward path; terminal failures sit outside it.
var statusRank = map[RequestStatus]int{
	StatusCreated:       0,
	StatusUtxosSelected: 1,
	StatusSigned:        2,
	StatusBroadcast:     3,
	StatusAwaitingLock:  4,
	StatusLocked:        5,
	StatusProofReady:    6,
	StatusFunded:        7,
}

func (s RequestStatus) IsTerminal() bool {
	return s == StatusFunded || s == StatusFailed || s == StatusTimedOut
}

// PastBroadcast reports whether the request has an observable on-chain
// footprint. Idempotent re-entry must resume, never rebuild, past here.
func (s RequestStatus) PastBroadcast() bool {
	rank, ok := statusRank[s]
	return ok && rank >= statusRank[StatusBroadcast]
}

// CanTransition enforces the state machine: strictly monotonic single
// steps along the forward path, plus Failed/TimedOut from any
// non-terminal state. AwaitingLock may re-enter itself while the
// confirmation fallback is still making progress.
func CanTransition(from, to RequestStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusTimedOut {
		return true
	}
	if from == StatusAwaitingLock && to == StatusAwaitingLock {
		return true
	}
	fromRank, ok1 := statusRank[from]
	toRank, ok2 := statusRank[to]
	return ok1 && ok2 && toRank == fromRank+1
}

var (
	ErrorRequestIdEmpty       = errors.New("request id is empty")
	ErrorAmountInvalid        = errors.New("target amount invalid")
	ErrorBeneficiaryKeyEmpty  = errors.New("beneficiary key is empty")
	ErrorTransitionIllegal    = errors.New("illegal state transition")
	ErrorRequestUnknownStatus = errors.New("unknown request status")
)

// FundingRequest is one user-initiated intent to fund an identity.
// Mutated only by the coordinator; serializable for host persistence.
type FundingRequest struct {
	RequestId      string // opaque idempotency key
	TargetAmount   int64  // in the base chain's smallest unit
	BeneficiaryKey []byte // layer-2 commitment target
	Status         RequestStatus

	Outpoints   []agreement.Outpoint // the reserved, immutable UTXO set
	TxId        string               // commitment tx id (hex), set on broadcast
	OutputIndex uint32               // where the commitment output sits
	Proof       []byte               // serialized funding proof, set at proof_ready

	FailureReason string // set on failed / timed_out
	Abandoned     bool   // cancelled after broadcast: funds may be recoverable externally
	Retryable     bool   // false once the failure class forbids a fresh attempt under this id

	BroadcastAttempts int // retry counters per phase
	LockWaitAttempts  int
}

// NewFundingRequest validates the caller-supplied intent.
func NewFundingRequest(requestId string, targetAmount int64, beneficiaryKey []byte) (*FundingRequest, error) {
	if requestId == "" {
		return nil, ErrorRequestIdEmpty
	}
	if targetAmount <= 0 {
		return nil, ErrorAmountInvalid
	}
	if len(beneficiaryKey) == 0 {
		return nil, ErrorBeneficiaryKeyEmpty
	}
	key := make([]byte, len(beneficiaryKey))
	copy(key, beneficiaryKey)
	return &FundingRequest{
		RequestId:      requestId,
		TargetAmount:   targetAmount,
		BeneficiaryKey: key,
		Status:         StatusCreated,
		Retryable:      true,
	}, nil
}

// Advance moves the request to the next status, rejecting illegal jumps.
func (fr *FundingRequest) Advance(to RequestStatus) error {
	if !CanTransition(fr.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrorTransitionIllegal, fr.Status, to)
	}
	fr.Status = to
	return nil
}

// Fail records a terminal failure with its reason.
func (fr *FundingRequest) Fail(reason string) error {
	if err := fr.Advance(StatusFailed); err != nil {
		return err
	}
	fr.FailureReason = reason
	return nil
}

// FailPermanently records a terminal failure whose class forbids a fresh
// attempt under the same request id: a policy-rejected broadcast, a
// platform rejection, an abandonment.
func (fr *FundingRequest) FailPermanently(reason string) error {
	if err := fr.Fail(reason); err != nil {
		return err
	}
	fr.Retryable = false
	return nil
}

// ResetForRetry rewinds a request to Created for a fresh attempt.
// Only legal while nothing is observable on-chain and the recorded
// failure class allows it: a request that ever broadcast must resume in
// place, and a permanent failure stays failed.
func (fr *FundingRequest) ResetForRetry() error {
	if fr.TxId != "" || fr.Status.PastBroadcast() {
		return fmt.Errorf("%w: cannot reset %s with tx %s", ErrorTransitionIllegal, fr.Status, fr.TxId)
	}
	if !fr.Retryable {
		return fmt.Errorf("%w: cannot reset permanently failed request", ErrorTransitionIllegal)
	}
	fr.Status = StatusCreated
	fr.Outpoints = nil
	fr.Proof = nil
	fr.FailureReason = ""
	fr.Abandoned = false
	return nil
}

// TxHash parses the stored tx id; nil while not broadcast yet.
func (fr *FundingRequest) TxHash() *chainhash.Hash {
	if fr.TxId == "" {
		return nil
	}
	h, err := chainhash.NewHashFromStr(fr.TxId)
	if err != nil {
		return nil
	}
	return h
}

func (fr *FundingRequest) Clone() *FundingRequest {
	clone := *fr
	clone.BeneficiaryKey = append([]byte(nil), fr.BeneficiaryKey...)
	clone.Outpoints = append([]agreement.Outpoint(nil), fr.Outpoints...)
	clone.Proof = append([]byte(nil), fr.Proof...)
	return &clone
}

func (fr *FundingRequest) String() string {
	return fmt.Sprintf("FundingRequest { RequestId: %s, Amount: %d, Status: %s, TxId: %s, Abandoned: %v }",
		fr.RequestId, fr.TargetAmount, fr.Status, common.Shorten(fr.TxId, 8), fr.Abandoned)
}

// JSONOutpoint / JSONFundingRequest are the host-facing wire forms.
type JSONOutpoint struct {
	TxId string `json:"txid"`
	Idx  uint32 `json:"idx"`
}

type JSONFundingRequest struct {
	RequestId         string         `json:"request_id"`
	TargetAmount      int64          `json:"target_amount"`
	BeneficiaryKey    string         `json:"beneficiary_key"`
	Status            string         `json:"status"`
	Outpoints         []JSONOutpoint `json:"outpoints"`
	TxId              string         `json:"txid"`
	OutputIndex       uint32         `json:"output_index"`
	Proof             string         `json:"proof"`
	FailureReason     string         `json:"failure_reason"`
	Abandoned         bool           `json:"abandoned"`
	Retryable         bool           `json:"retryable"`
	BroadcastAttempts int            `json:"broadcast_attempts"`
	LockWaitAttempts  int            `json:"lock_wait_attempts"`
}

func (fr *FundingRequest) MarshalJSON() ([]byte, error) {
	jOutpoints := []JSONOutpoint{}
	for _, op := range fr.Outpoints {
		jOutpoints = append(jOutpoints, JSONOutpoint{TxId: op.TxId.String(), Idx: op.Idx})
	}

	return json.Marshal(&JSONFundingRequest{
		RequestId:         fr.RequestId,
		TargetAmount:      fr.TargetAmount,
		BeneficiaryKey:    common.ByteSliceToPureHexStr(fr.BeneficiaryKey),
		Status:            string(fr.Status),
		Outpoints:         jOutpoints,
		TxId:              fr.TxId,
		OutputIndex:       fr.OutputIndex,
		Proof:             common.ByteSliceToPureHexStr(fr.Proof),
		FailureReason:     fr.FailureReason,
		Abandoned:         fr.Abandoned,
		Retryable:         fr.Retryable,
		BroadcastAttempts: fr.BroadcastAttempts,
		LockWaitAttempts:  fr.LockWaitAttempts,
	})
}

func (fr *FundingRequest) UnmarshalJSON(data []byte) error {
	var j JSONFundingRequest
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	status := RequestStatus(j.Status)
	if _, known := statusRank[status]; !known && !status.IsTerminal() {
		return fmt.Errorf("%w: %q", ErrorRequestUnknownStatus, j.Status)
	}

	fr.RequestId = j.RequestId
	fr.TargetAmount = j.TargetAmount
	fr.BeneficiaryKey = common.HexStrToByteSlice(j.BeneficiaryKey)
	fr.Status = status
	fr.TxId = j.TxId
	fr.OutputIndex = j.OutputIndex
	fr.Proof = common.HexStrToByteSlice(j.Proof)
	fr.FailureReason = j.FailureReason
	fr.Abandoned = j.Abandoned
	fr.Retryable = j.Retryable
	fr.BroadcastAttempts = j.BroadcastAttempts
	fr.LockWaitAttempts = j.LockWaitAttempts

	fr.Outpoints = nil
	for _, jop := range j.Outpoints {
		h, err := chainhash.NewHashFromStr(jop.TxId)
		if err != nil {
			return err
		}
		fr.Outpoints = append(fr.Outpoints, agreement.Outpoint{TxId: *h, Idx: jop.Idx})
	}
	return nil
}
