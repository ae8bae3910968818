package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/foggle/foggle/errs"
)

// Signature is the r/s/v triple attached to signed action payloads.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// signatureChainID is the chain the venue expects user-signed actions to
// reference, independent of the phantom agent chain.
const signatureChainID = "0x66eee"

var lastNonce atomic.Int64

// NextNonce returns the current wall clock in milliseconds, strictly greater
// than every nonce previously issued by this process. Two actions signed
// within the same millisecond still receive distinct, increasing nonces.
func NextNonce() int64 {
	for {
		last := lastNonce.Load()
		next := time.Now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if lastNonce.CompareAndSwap(last, next) {
			return next
		}
	}
}

// ActionHash computes the canonical digest of an L1 action: the msgpack
// encoding of the action, the nonce as eight big-endian bytes, then a vault
// marker byte (0x00 without a vault, 0x01 plus the vault address with one).
func ActionHash(action any, vaultAddress string, nonce int64) (common.Hash, error) {
	data, err := msgpack.Marshal(action)
	if err != nil {
		return common.Hash{}, errs.New(VenueName, errs.CodeInvalid,
			errs.WithMessage("encode action"), errs.WithCause(err))
	}
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))
	data = append(data, nonceBytes[:]...)
	if vaultAddress == "" {
		data = append(data, 0x00)
	} else {
		data = append(data, 0x01)
		data = append(data, common.HexToAddress(vaultAddress).Bytes()...)
	}
	return crypto.Keccak256Hash(data), nil
}

// SignL1Action signs an exchange action with the phantom agent construction:
// the action hash becomes the connectionId of an Agent struct signed under
// the fixed Exchange/1337 typed-data domain. The source field distinguishes
// mainnet ("a") from testnet ("b").
func SignL1Action(key *ecdsa.PrivateKey, action any, vaultAddress string, nonce int64, isMainnet bool) (Signature, error) {
	connectionID, err := ActionHash(action, vaultAddress, nonce)
	if err != nil {
		return Signature{}, err
	}
	return signTypedData(key, l1TypedData(connectionID, isMainnet))
}

func l1TypedData(connectionID common.Hash, isMainnet bool) apitypes.TypedData {
	source := "b"
	if isMainnet {
		source = "a"
	}
	return apitypes.TypedData{
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(1337),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": connectionID[:],
		},
	}
}

// ApproveAgentAction is the user-signed action that authorizes a fresh agent
// key to sign on behalf of the primary wallet. Field order matters for the
// msgpack encoding and must not be rearranged.
type ApproveAgentAction struct {
	Type             string `json:"type" msgpack:"type"`
	HyperliquidChain string `json:"hyperliquidChain" msgpack:"hyperliquidChain"`
	SignatureChainID string `json:"signatureChainId" msgpack:"signatureChainId"`
	AgentAddress     string `json:"agentAddress" msgpack:"agentAddress"`
	AgentName        string `json:"agentName,omitempty" msgpack:"agentName"`
	Nonce            int64  `json:"nonce" msgpack:"nonce"`
}

// SignApproveAgent signs an agent approval. Unlike L1 actions, user-signed
// actions are hashed over the action fields directly under the
// HyperliquidSignTransaction domain.
func SignApproveAgent(key *ecdsa.PrivateKey, action *ApproveAgentAction) (Signature, error) {
	typed, err := approveAgentTypedData(action)
	if err != nil {
		return Signature{}, err
	}
	return signTypedData(key, typed)
}

func approveAgentTypedData(action *ApproveAgentAction) (apitypes.TypedData, error) {
	chainID, err := hexutil.DecodeBig(action.SignatureChainID)
	if err != nil {
		return apitypes.TypedData{}, errs.New(VenueName, errs.CodeInvalid,
			errs.WithMessage("parse signature chain id"), errs.WithCause(err))
	}
	return apitypes.TypedData{
		Domain: apitypes.TypedDataDomain{
			Name:              "HyperliquidSignTransaction",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"HyperliquidTransaction:ApproveAgent": {
				{Name: "hyperliquidChain", Type: "string"},
				{Name: "agentAddress", Type: "address"},
				{Name: "agentName", Type: "string"},
				{Name: "nonce", Type: "uint64"},
			},
		},
		PrimaryType: "HyperliquidTransaction:ApproveAgent",
		Message: apitypes.TypedDataMessage{
			"hyperliquidChain": action.HyperliquidChain,
			"agentAddress":     action.AgentAddress,
			"agentName":        action.AgentName,
			"nonce":            math.NewHexOrDecimal256(action.Nonce),
		},
	}, nil
}

func signTypedData(key *ecdsa.PrivateKey, typed apitypes.TypedData) (Signature, error) {
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return Signature{}, errs.New(VenueName, errs.CodeInvalid,
			errs.WithMessage("hash typed data"), errs.WithCause(err))
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return Signature{}, errs.New(VenueName, errs.CodeIdentity,
			errs.WithMessage("sign typed data"), errs.WithCause(err))
	}
	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: sig[64] + 27,
	}, nil
}
