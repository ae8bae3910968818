package hyperliquid

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"

	"github.com/foggle/foggle/errs"
)

// Exchange posts signed actions on behalf of one signing identity. The
// signing wallet may differ from the account it acts for when the wallet is
// an approved agent key.
type Exchange struct {
	client         *Client
	wallet         *ecdsa.PrivateKey
	walletAddress  string
	accountAddress string
	vaultAddress   string
}

// NewExchange binds a signing key to an account. accountAddress may be empty
// when it matches the wallet; vaultAddress routes actions through a vault.
func NewExchange(client *Client, wallet *ecdsa.PrivateKey, accountAddress, vaultAddress string) *Exchange {
	walletAddr := crypto.PubkeyToAddress(wallet.PublicKey).Hex()
	if accountAddress == "" {
		accountAddress = walletAddr
	}
	return &Exchange{
		client:         client,
		wallet:         wallet,
		walletAddress:  walletAddr,
		accountAddress: accountAddress,
		vaultAddress:   vaultAddress,
	}
}

// WalletAddress returns the address derived from the signing key.
func (e *Exchange) WalletAddress() string { return e.walletAddress }

// AccountAddress returns the account the exchange acts for.
func (e *Exchange) AccountAddress() string { return e.accountAddress }

type actionPayload struct {
	Action       any       `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

// PostAction submits a previously signed action to the exchange endpoint.
func (e *Exchange) PostAction(ctx context.Context, action any, sig Signature, nonce int64) (json.RawMessage, error) {
	payload := actionPayload{Action: action, Nonce: nonce, Signature: sig}
	if e.vaultAddress != "" {
		vault := e.vaultAddress
		payload.VaultAddress = &vault
	}
	return e.client.Post(ctx, "/exchange", payload)
}

// PerformAction signs an L1 action with a fresh nonce and submits it.
func (e *Exchange) PerformAction(ctx context.Context, action any) (json.RawMessage, error) {
	nonce := NextNonce()
	sig, err := SignL1Action(e.wallet, action, e.vaultAddress, nonce, e.client.IsMainnet())
	if err != nil {
		return nil, err
	}
	return e.PostAction(ctx, action, sig, nonce)
}

// ApproveAgent generates a fresh agent key, signs its approval with the
// primary wallet and submits it. The returned key is hex-encoded with a 0x
// prefix; the caller re-homes signing onto it once the venue reports ok.
func (e *Exchange) ApproveAgent(ctx context.Context, agentName string) (json.RawMessage, string, error) {
	var keyBytes [32]byte
	if _, err := rand.Read(keyBytes[:]); err != nil {
		return nil, "", errs.New(VenueName, errs.CodeIdentity,
			errs.WithMessage("generate agent key"), errs.WithCause(err))
	}
	agentKey := "0x" + hex.EncodeToString(keyBytes[:])
	agentPriv, err := crypto.HexToECDSA(agentKey[2:])
	if err != nil {
		return nil, "", errs.New(VenueName, errs.CodeIdentity,
			errs.WithMessage("derive agent key"), errs.WithCause(err))
	}

	chain := "Testnet"
	if e.client.IsMainnet() {
		chain = "Mainnet"
	}
	nonce := NextNonce()
	action := &ApproveAgentAction{
		Type:             "approveAgent",
		HyperliquidChain: chain,
		SignatureChainID: signatureChainID,
		AgentAddress:     crypto.PubkeyToAddress(agentPriv.PublicKey).Hex(),
		AgentName:        agentName,
		Nonce:            nonce,
	}
	sig, err := SignApproveAgent(e.wallet, action)
	if err != nil {
		return nil, "", err
	}
	result, err := e.PostAction(ctx, action, sig, nonce)
	if err != nil {
		return nil, "", err
	}
	return result, agentKey, nil
}

// ActionStatus extracts the top-level status string from an exchange
// response, or an empty string when absent.
func ActionStatus(raw json.RawMessage) string {
	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}
	return parsed.Status
}
