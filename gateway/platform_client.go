package gateway

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crosslayer/funding-go/agreement"
)

const defaultPlatformTimeout = 30 * time.Second

// HttpPlatformClient submits funding proofs to a layer-2 node over its
// HTTP API. It implements agreement.PlatformClient.
type HttpPlatformClient struct {
	baseURL string // eg. http://127.0.0.1:3000
	client  *http.Client
}

func NewHttpPlatformClient(baseURL string) *HttpPlatformClient {
	return &HttpPlatformClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultPlatformTimeout},
	}
}

type jsonFundIdentityRequest struct {
	BeneficiaryKey string `json:"beneficiary_key"` // hex
	Proof          string `json:"proof"`           // hex
}

type jsonFundIdentityResponse struct {
	IdentityId     string `json:"identity_id"` // hex
	CreditsGranted uint64 `json:"credits_granted"`
	Error          string `json:"error"`
}

// FundIdentity posts the proof and returns the platform's receipt.
// A non-200 answer is a rejection: the platform refused to credit the
// identity, there is nothing to retry.
func (p *HttpPlatformClient) FundIdentity(beneficiaryKey []byte, proof []byte) (*agreement.IdentityFundingReceipt, error) {
	payload, err := json.Marshal(&jsonFundIdentityRequest{
		BeneficiaryKey: hex.EncodeToString(beneficiaryKey),
		Proof:          hex.EncodeToString(proof),
	})
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Post(p.baseURL+"/identity/fund", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var jr jsonFundIdentityResponse
	if err := json.Unmarshal(body, &jr); err != nil {
		return nil, fmt.Errorf("malformed platform response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		if jr.Error != "" {
			return nil, fmt.Errorf("platform refused funding: %s", jr.Error)
		}
		return nil, fmt.Errorf("platform refused funding: http %d", resp.StatusCode)
	}

	receipt := &agreement.IdentityFundingReceipt{CreditsGranted: jr.CreditsGranted}
	identityId, err := hex.DecodeString(jr.IdentityId)
	if err != nil {
		return nil, fmt.Errorf("malformed identity id in receipt: %v", err)
	}
	copy(receipt.IdentityId[:], identityId)
	return receipt, nil
}
