package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/subpool/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-s string   grant JWT HMAC secret key
//	-k string   credential cipher key
//	-l string   credential cipher key salt
//	-t int      grant duration, minutes
//	-w int      withdrawal cooldown window, hours
//	-m int      minimum withdrawal, credits
//	-f int      group staleness window, hours
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers and converted to time.Duration.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-s", "-k", "-l", "-t", "-w", "-m", "-f", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.CredentialKey, "k", config.CredentialKey, "credential cipher key")
	fs.StringVar(&config.CredentialKeySalt, "l", config.CredentialKeySalt, "credential cipher key salt")

	grantDuration := fs.Int("t", int(config.GrantDuration.Minutes()), "grant_duration (in minutes)")
	cooldownWindow := fs.Int("w", int(config.CooldownWindow.Hours()), "cooldown_window (in hours)")
	fs.Int64Var(&config.MinimumWithdrawal, "m", config.MinimumWithdrawal, "minimum withdrawal (in credits)")
	stalenessWindow := fs.Int("f", int(config.GroupStalenessWindow.Hours()), "group_staleness_window (in hours)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.GrantDuration = time.Duration(*grantDuration) * time.Minute
	config.CooldownWindow = time.Duration(*cooldownWindow) * time.Hour
	config.GroupStalenessWindow = time.Duration(*stalenessWindow) * time.Hour
}
