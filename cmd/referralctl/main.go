package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"nameref/cmd/internal/secret"
	"nameref/crypto/merkle"
	"nameref/native/referral"
	"nameref/services/referrald"
)

const (
	tokenCommand     = "token"
	allowlistCommand = "allowlist"
	addressCommand   = "address"
	defaultSecretEnv = "REFERRALD_HMAC_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case allowlistCommand:
		err = runAllowlist(os.Args[2:], os.Stdout)
	case addressCommand:
		err = runAddress(os.Args[2:], os.Stdout)
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: referralctl <command> [flags]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  %-10s issue a bearer token for a caller address\n", tokenCommand)
	fmt.Fprintf(w, "  %-10s compute an allowlist root and referrer proof\n", allowlistCommand)
	fmt.Fprintf(w, "  %-10s print the treasury and escrow addresses of a program\n", addressCommand)
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	caller := fs.String("caller", "", "Caller address carried in the token subject")
	issuer := fs.String("issuer", "", "Token issuer")
	audience := fs.String("audience", "", "Token audience")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable holding the HMAC secret")
	secretFile := fs.String("secret-file", "", "File holding the HMAC secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*caller) {
		return fmt.Errorf("caller %q is not an address", *caller)
	}
	key, err := secret.NewSource("hmac secret", *secretEnv, *secretFile).Get()
	if err != nil {
		return err
	}
	token, err := referrald.IssueToken([]byte(key), common.HexToAddress(*caller), *issuer, *audience, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runAllowlist(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(allowlistCommand, flag.ContinueOnError)
	membersFile := fs.String("members", "", "File with one member address per line")
	referrer := fs.String("referrer", "", "Referrer whose encoded proof is printed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *membersFile == "" {
		return errors.New("members file required")
	}
	file, err := os.Open(*membersFile)
	if err != nil {
		return err
	}
	defer file.Close()
	members, err := readMembers(file)
	if err != nil {
		return err
	}
	return printAllowlist(out, members, *referrer)
}

func readMembers(r io.Reader) ([]common.Address, error) {
	var members []common.Address
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if !common.IsHexAddress(text) {
			return nil, fmt.Errorf("line %d: %q is not an address", line, text)
		}
		members = append(members, common.HexToAddress(text))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

func printAllowlist(out io.Writer, members []common.Address, referrer string) error {
	tree, err := merkle.NewTree(members)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "members: %d\n", tree.Len())
	fmt.Fprintf(out, "root:    %s\n", tree.Root().Hex())
	if referrer == "" {
		return nil
	}
	if !common.IsHexAddress(referrer) {
		return fmt.Errorf("referrer %q is not an address", referrer)
	}
	proof, err := tree.Proof(common.HexToAddress(referrer))
	if err != nil {
		return err
	}
	data, err := referral.EncodeProof(proof)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "referrer_data: %s\n", hexutil.Encode(data))
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(addressCommand, flag.ContinueOnError)
	program := fs.String("program", "", "Program id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*program) == "" {
		return errors.New("program id required")
	}
	fmt.Fprintf(out, "treasury: %s\n", referral.ProgramAddress(*program).Hex())
	fmt.Fprintf(out, "escrow:   %s\n", referral.EscrowAddress(*program).Hex())
	return nil
}
