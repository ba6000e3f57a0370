package sidecar

import "context"

// TokenBalance is one SPL or native-SOL balance entry for a wallet address.
type TokenBalance struct {
	Mint     string `json:"mint"` // empty for native SOL
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

// GetWalletBalances returns every token balance (including native SOL) held
// by address.
func (c *Client) GetWalletBalances(ctx context.Context, address string) ([]TokenBalance, error) {
	var resp struct {
		Balances []TokenBalance `json:"balances"`
	}
	if err := c.do(ctx, "POST", "/v1/wallet/balances", map[string]string{"address": address}, &resp); err != nil {
		return nil, err
	}
	return resp.Balances, nil
}

// TransferSOLRequest asks the sidecar to send native SOL from one custodial
// wallet to a destination address. Signature is the Ed25519 signature over
// the serialized transaction, produced by domain/wallet.Service.Sign.
type TransferSOLRequest struct {
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	LamportsQty string `json:"lamports"`
	Signature   string `json:"signature_hex"`
}

// TransferResult is returned by every transfer/withdraw/deposit operation.
type TransferResult struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
}

// TransferSOL submits a native SOL transfer.
func (c *Client) TransferSOL(ctx context.Context, req TransferSOLRequest) (*TransferResult, error) {
	var resp TransferResult
	if err := c.do(ctx, "POST", "/v1/transfer/sol", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TransferSPLRequest asks the sidecar to send an SPL token.
type TransferSPLRequest struct {
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Mint        string `json:"mint"`
	AmountQty   string `json:"amount"`
	Signature   string `json:"signature_hex"`
}

// TransferSPL submits an SPL token transfer.
func (c *Client) TransferSPL(ctx context.Context, req TransferSPLRequest) (*TransferResult, error) {
	var resp TransferResult
	if err := c.do(ctx, "POST", "/v1/transfer/spl", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecutePrivateDepositRequest submits a shielded deposit note to the
// sidecar's private-deposit pool.
type ExecutePrivateDepositRequest struct {
	FromAddress string `json:"from_address"`
	Mint        string `json:"mint"`
	AmountQty   string `json:"amount"`
	NoteCommit  string `json:"note_commitment"`
	Signature   string `json:"signature_hex"`
}

// ExecutePrivateDeposit submits a private deposit.
func (c *Client) ExecutePrivateDeposit(ctx context.Context, req ExecutePrivateDepositRequest) (*TransferResult, error) {
	var resp TransferResult
	if err := c.do(ctx, "POST", "/v1/deposit/private", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WithdrawNoteRequest redeems a shielded deposit note back to a public
// address.
type WithdrawNoteRequest struct {
	ToAddress  string `json:"to_address"`
	NoteSecret string `json:"note_secret"`
	Signature  string `json:"signature_hex"`
}

// WithdrawNote submits a note withdrawal.
func (c *Client) WithdrawNote(ctx context.Context, req WithdrawNoteRequest) (*TransferResult, error) {
	var resp TransferResult
	if err := c.do(ctx, "POST", "/v1/withdraw/note", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
