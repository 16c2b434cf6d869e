// cmd/gentoken mints an access token for local testing of the caja API.
// Uso: go run ./cmd/gentoken -rol cajero -pdv 1
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"cajapos/internal/config"
	"cajapos/internal/middleware"

	"github.com/google/uuid"
)

func main() {
	userID := flag.String("user", "", "usuario id (uuid); random when empty")
	username := flag.String("username", "demo", "username claim")
	rol := flag.String("rol", middleware.RolCajero, "cajero|supervisor|administrador")
	pdv := flag.Int("pdv", 0, "punto de venta bound to the token (0 = any)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if *userID == "" {
		*userID = uuid.NewString()
	} else if _, err := uuid.Parse(*userID); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -user: %v\n", err)
		os.Exit(1)
	}

	claims := middleware.JWTClaims{UserID: *userID, Username: *username, Rol: *rol}
	if *pdv > 0 {
		claims.PuntoDeVenta = pdv
	}
	tok, err := middleware.NewToken(cfg.JWTSecret, claims, time.Duration(cfg.JWTExpirationHours)*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
