package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/craftclass/jury/internal/provider/hdwallet"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// Prompt hooks, replaced in tests.
//
//nolint:gochecknoglobals // Replaced in tests
var (
	promptPasswordFn      = promptPassword
	promptNewPassphraseFn = promptNewPassphrase
	promptConfirmFn       = promptConfirm
)

// promptPassword prompts for a secret with hidden input.
// The caller is responsible for zeroing the returned bytes after use.
func promptPassword(prompt string) ([]byte, error) {
	out(os.Stderr, "%s", prompt)

	password, err := term.ReadPassword(syscall.Stdin)
	outln(os.Stderr) // Add newline after hidden input

	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	return password, nil
}

// promptNewPassphrase asks for a seed file passphrase twice.
func promptNewPassphrase() (string, error) {
	pass, err := promptPasswordFn("Enter seed file passphrase: ")
	if err != nil {
		return "", err
	}
	defer zero(pass)

	if len(pass) < 8 {
		return "", juryerr.WithSuggestion(juryerr.ErrInvalidInput, "passphrase must be at least 8 characters")
	}

	confirm, err := promptPasswordFn("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	defer zero(confirm)

	if string(pass) != string(confirm) {
		return "", juryerr.WithSuggestion(juryerr.ErrInvalidInput, "passphrases do not match")
	}
	return string(pass), nil
}

// promptConfirm asks a yes/no question on stderr and reads the answer.
func promptConfirm(question string) bool {
	out(os.Stderr, "%s [y/N]: ", question)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	response := strings.ToLower(strings.TrimSpace(line))
	return response == "y" || response == "yes"
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// newApprover returns the approver local wallets prompt through. With --yes
// every request is approved.
func newApprover(w io.Writer) hdwallet.Approver {
	return hdwallet.ApproverFunc(func(_ context.Context, req hdwallet.ApprovalRequest) (bool, error) {
		if assumeYes {
			return true, nil
		}
		describeApproval(w, req)
		return promptConfirmFn(fmt.Sprintf("Approve %s?", req.Kind)), nil
	})
}

// describeApproval prints what the wallet is about to do.
func describeApproval(w io.Writer, req hdwallet.ApprovalRequest) {
	out(w, "\n%s requests to %s\n", req.Wallet, req.Kind)
	switch req.Kind {
	case hdwallet.ApproveConnect:
		for _, a := range req.Accounts {
			out(w, "  account: %s\n", a.Hex())
		}
	case hdwallet.ApproveSwitchChain:
		out(w, "  chain:   %s\n", networkLabel(cfg, req.ChainID))
	case hdwallet.ApproveTransaction:
		if req.Tx != nil {
			out(w, "  from:    %s\n", req.Tx.From.Hex())
			if req.Tx.To != nil {
				out(w, "  to:      %s\n", req.Tx.To.Hex())
			}
			if method := describeCall(req.Tx.Data); method != "" {
				out(w, "  call:    %s\n", method)
			}
		}
	case hdwallet.ApproveSignTypedData:
		if req.TypedData != nil {
			out(w, "  type:    %s\n", req.TypedData.PrimaryType)
			out(w, "  domain:  %s\n", req.TypedData.Domain.Name)
		}
	}
}
