package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/flagx"
)

var flagNames = []string{
	"-a", "-d", "-r", "-cb", "-t", "-q", "-k", "-s", "-n", "-m", "-w", "-j", "-x",
	"-u", "-p", "-b", "-g", "-e",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-r string   Redis URL
//	-cb string  callback base URL
//	-t string   delivery transport: qstash or nats
//	-q string   QStash URL
//	-k string   QStash token
//	-s string   current signing key
//	-n string   next signing key
//	-m string   NATS URL
//	-w int      dispatch delay, seconds
//	-j int      batch concurrency
//	-x string   API bearer token
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name (empty disables the failed-job archive)
//	-g string   S3 region
//	-e string   S3 base endpoint
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], flagNames)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "redis URL")
	fs.StringVar(&config.CallbackBaseURL, "cb", config.CallbackBaseURL, "callback base URL")
	fs.StringVar(&config.DeliveryTransport, "t", config.DeliveryTransport, "delivery transport (qstash|nats)")
	fs.StringVar(&config.QStashURL, "q", config.QStashURL, "QStash URL")
	fs.StringVar(&config.QStashToken, "k", config.QStashToken, "QStash token")
	fs.StringVar(&config.QStashCurrentSigningKey, "s", config.QStashCurrentSigningKey, "current signing key")
	fs.StringVar(&config.QStashNextSigningKey, "n", config.QStashNextSigningKey, "next signing key")
	fs.StringVar(&config.NATSURL, "m", config.NATSURL, "NATS URL")

	dispatchDelay := fs.Int("w", int(config.DispatchDelay.Seconds()), "dispatch delay (in seconds)")

	fs.IntVar(&config.BatchConcurrency, "j", config.BatchConcurrency, "batch concurrency")
	fs.StringVar(&config.APIToken, "x", config.APIToken, "API bearer token")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket for failed jobs")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.DispatchDelay = time.Duration(*dispatchDelay) * time.Second
}
