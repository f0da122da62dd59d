// Command mint-token issues a bearer token for an upstream service, operator
// or reporting client. The token is printed to stdout.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/settlement-ledger/pkg/auth"
	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

func main() {
	_ = godotenv.Load()

	role := flag.String("role", string(enums.ActorRoleService), "service|admin|reporting")
	actor := flag.String("actor", "", "actor uuid (random when empty)")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to LEDGER_JWT_EXPIRATION_MINUTES)")
	flag.Parse()

	token, err := mint(*role, *actor, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func mint(role, actor string, ttl time.Duration) (string, error) {
	cfg, err := config.LoadJWT()
	if err != nil {
		return "", err
	}
	signer, err := auth.NewSigner(cfg)
	if err != nil {
		return "", err
	}
	actorID := uuid.New()
	if actor != "" {
		if actorID, err = uuid.Parse(actor); err != nil {
			return "", fmt.Errorf("invalid -actor: %w", err)
		}
	}
	return signer.Mint(auth.TokenPayload{ActorID: actorID, Role: enums.ActorRole(role)}, ttl)
}
