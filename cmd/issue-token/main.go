// Command issue-token mints a bearer token for local testing of the API.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"classcheckin/internal/attendance"
	"classcheckin/internal/auth"
	"classcheckin/internal/config"
)

func main() {
	var (
		subject = flag.String("sub", "", "actor id (lecturer, admin or student id)")
		role    = flag.String("role", string(attendance.RoleStudent), "admin, lecturer or student")
		ttl     = flag.Duration("ttl", 0, "token lifetime (defaults to ACCESS_TTL)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *ttl == 0 {
		*ttl = cfg.AccessTTL
	}

	issued, err := auth.Issue(attendance.Actor{ID: *subject, Role: attendance.Role(*role)}, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue-token: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}
	fmt.Println(issued.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", issued.ExpiresAt.Format(time.RFC3339))
}
