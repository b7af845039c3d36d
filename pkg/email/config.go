package email

// Config holds the email delivery configuration.
// With no Postmark tokens the process falls back to LogSender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@pharmacare.local"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@pharmacare.local"`
}

// PostmarkEnabled reports whether Postmark credentials are configured.
func (c Config) PostmarkEnabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}
