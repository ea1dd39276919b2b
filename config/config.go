// Package config reads the service configuration from the environment and
// realizes the collaborators it selects
package config

import (
	"context"
	"errors"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/access"
	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/logger"
	"github.com/relabs-tech/gardenbase/core/mail"
	"github.com/relabs-tech/gardenbase/core/notifier"
)

// Configuration holds the configuration of the gardenbase service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Configuration struct {
	Postgres         string `env:"POSTGRES" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Schema           string `env:"GARDENBASE_SCHEMA,default=gardenbase" description:"the Postgres schema of the tables"`
	DatabaseDriver   string `env:"DATABASE_DRIVER,default=postgres" description:"postgres or sqlite3"`
	SQLitePath       string `env:"SQLITE_PATH,default=gardenbase.db" description:"the database file if the driver is sqlite3"`

	Port     int    `env:"PORT,default=3000" description:"the port the service listens on"`
	LogLevel string `env:"LOG_LEVEL,default=info" description:"the log level, one of trace, debug, info, warn, error"`

	JWTSecret    string        `env:"JWT_SECRET,optional" description:"shared secret of HMAC signed tokens"`
	JWTPublicKey string        `env:"JWT_PUBLIC_KEY,optional" description:"RSA public key (PEM) of RS256 signed tokens"`
	JWTIssuer    string        `env:"JWT_ISSUER,optional" description:"the accepted token issuer"`
	IdentityURL  string        `env:"IDENTITY_URL,optional" description:"identity API which resolves bearer tokens, used if no JWT key is configured"`
	IdentityTTL  time.Duration `env:"IDENTITY_CACHE_TTL,default=1m" description:"how long resolved identities are cached"`

	KafkaBrokers string `env:"KAFKA_BROKERS,optional" description:"comma separated kafka brokers for change notifications"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=gardenbase_changes" description:"the kafka topic for change notifications"`

	MailQueueURL       string `env:"MAIL_QUEUE_URL,optional" description:"the SQS queue of the mail relay, mails are only logged if empty"`
	MailSender         string `env:"MAIL_SENDER,default=garden@relabs.tech" description:"the sender address of notification mails"`
	AWSRegion          string `env:"AWS_REGION,default=eu-central-1" description:"the AWS region"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID,optional" description:"static AWS credentials, default credential chain if empty"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY,optional" description:"static AWS credentials"`
}

// Load decodes the configuration from the environment and initializes the logger
func Load() (*Configuration, error) {
	c := &Configuration{}
	if err := envdecode.Decode(c); err != nil {
		return nil, err
	}
	logger.InitLoggerFromString(c.LogLevel)
	return c, nil
}

// OpenDB opens the configured database
func (c *Configuration) OpenDB() (*csql.DB, error) {
	switch c.DatabaseDriver {
	case csql.DriverPostgres:
		if c.Postgres == "" {
			return nil, errors.New("POSTGRES is required for the postgres driver")
		}
		return csql.OpenWithSchema(c.Postgres, c.PostgresPassword, c.Schema), nil
	case csql.DriverSQLite:
		logger.Default().Infoln("opening sqlite database:", c.SQLitePath)
		return csql.OpenSQLite("file:" + c.SQLitePath)
	}
	return nil, errors.New("unknown DATABASE_DRIVER " + c.DatabaseDriver)
}

// Verifier returns the bearer token verifier. A configured JWT key takes precedence
// over the identity API.
func (c *Configuration) Verifier() (access.Verifier, error) {
	if c.JWTSecret != "" || c.JWTPublicKey != "" {
		logger.Default().Infoln("verifying JSON web tokens locally")
		return access.NewJWTVerifier(&access.JWTVerifierBuilder{
			Secret:       c.JWTSecret,
			PublicKeyPEM: c.JWTPublicKey,
			Issuer:       c.JWTIssuer,
		})
	}
	if c.IdentityURL != "" {
		logger.Default().Infoln("verifying tokens with identity API", c.IdentityURL)
		return access.NewCachingVerifier(access.NewRemoteVerifier(c.IdentityURL), c.IdentityTTL), nil
	}
	return nil, errors.New("either JWT_SECRET, JWT_PUBLIC_KEY or IDENTITY_URL must be configured")
}

// Notifier returns the change notifier, nil if no kafka brokers are configured
func (c *Configuration) Notifier() core.Notifier {
	if c.KafkaBrokers == "" {
		return nil
	}
	logger.Default().Infoln("publishing changes to kafka topic", c.KafkaTopic)
	return notifier.NewKafkaNotifier(c.KafkaBrokers, c.KafkaTopic)
}

// Mailer returns the SQS mailer if a queue is configured, otherwise a mailer which
// only logs
func (c *Configuration) Mailer(ctx context.Context) (mail.Mailer, error) {
	if c.MailQueueURL == "" {
		logger.Default().Warnln("no MAIL_QUEUE_URL, mails are only logged")
		return mail.LogMailer{}, nil
	}
	return mail.NewSQSMailer(ctx, mail.SQSConfiguration{
		QueueURL:  c.MailQueueURL,
		Sender:    c.MailSender,
		AWSRegion: c.AWSRegion,
		AccessID:  c.AWSAccessKeyID,
		AccessKey: c.AWSSecretAccessKey,
	})
}
