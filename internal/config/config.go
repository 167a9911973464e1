// Package config resolves the process configuration: built-in defaults,
// then an optional YAML file, then environment variables. The result is
// validated once and handed out by value; nothing mutates it afterwards.
package config

import (
	"time"
)

// Timeouts bounds each automation wait.
type Timeouts struct {
	PageLoad       time.Duration `validate:"gt=0"`
	ElementVisible time.Duration `validate:"gt=0"`
	Probe          time.Duration `validate:"gte=0"`
	OfferDialog    time.Duration `validate:"gt=0"`
	BuyboxReady    time.Duration `validate:"gt=0"`
	CartConfirm    time.Duration `validate:"gt=0"`
	CheckoutReady  time.Duration `validate:"gt=0"`
	CheckoutLoad   time.Duration `validate:"gt=0"`
}

// Worker is the per-run configuration of the purchase flow.
type Worker struct {
	Timeouts Timeouts

	// MaxRetries is the total number of attempts per retryable state.
	MaxRetries int           `validate:"min=1,max=20"`
	RetryDelay time.Duration `validate:"gte=0"`

	FastCheckout      bool
	FastCheckoutDelay time.Duration `validate:"gte=0"`
	CheckoutEntryURL  string        `validate:"required,http_url"`

	ConfirmFinalOrder   bool
	ConfirmationTimeout time.Duration `validate:"gt=0"`

	DryRun bool
}

// App is the full process configuration.
type App struct {
	Worker Worker

	ListenAddr   string `validate:"required"`
	DatabasePath string `validate:"required"`

	ProfileDir        string
	ArtifactsDir      string `validate:"required"`
	Headless          bool
	BrowserControlURL string `validate:"omitempty,url"`
	LocatorsFile      string

	RedisAddress string `validate:"omitempty,hostname_port"`
	SessionKey   string `validate:"required"`

	MaxQueueDepth    int `validate:"gte=0"`
	MaxActivityItems int `validate:"gte=1"`
}

// DefaultCheckoutEntryURL is the checkout entry used by the fast path.
const DefaultCheckoutEntryURL = "https://www.amazon.com/checkout/entry/cart?proceedToCheckout=1"

// DefaultWorker mirrors the timing the flow was tuned with.
func DefaultWorker() Worker {
	return Worker{
		Timeouts: Timeouts{
			PageLoad:       30 * time.Second,
			ElementVisible: 10 * time.Second,
			Probe:          150 * time.Millisecond,
			OfferDialog:    10 * time.Second,
			BuyboxReady:    10 * time.Second,
			CartConfirm:    10 * time.Second,
			CheckoutReady:  15 * time.Second,
			CheckoutLoad:   30 * time.Second,
		},
		MaxRetries:          3,
		RetryDelay:          500 * time.Millisecond,
		FastCheckoutDelay:   2 * time.Second,
		CheckoutEntryURL:    DefaultCheckoutEntryURL,
		ConfirmationTimeout: 300 * time.Second,
	}
}

// Default returns the full default configuration.
func Default() App {
	return App{
		Worker:           DefaultWorker(),
		ListenAddr:       ":8080",
		DatabasePath:     "dropcart.db",
		ProfileDir:       "browser-profile",
		ArtifactsDir:     "artifacts",
		Headless:         true,
		SessionKey:       "dropcart:session",
		MaxActivityItems: 100,
	}
}
