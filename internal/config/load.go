package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// file is the YAML layout. Durations are integers in the unit their key
// names, matching the environment variables.
type file struct {
	Worker struct {
		Timeouts struct {
			PageLoadMS       int64 `yaml:"page_load_ms"`
			ElementVisibleMS int64 `yaml:"element_visible_ms"`
			ProbeMS          int64 `yaml:"probe_ms"`
			OfferDialogMS    int64 `yaml:"offer_dialog_ms"`
			BuyboxReadyMS    int64 `yaml:"buybox_ready_ms"`
			CartConfirmMS    int64 `yaml:"cart_confirm_ms"`
			CheckoutReadyMS  int64 `yaml:"checkout_ready_ms"`
			CheckoutLoadMS   int64 `yaml:"checkout_load_ms"`
		} `yaml:"timeouts"`
		MaxRetries                 int     `yaml:"max_retries"`
		RetryDelaySeconds          float64 `yaml:"retry_delay_seconds"`
		FastCheckout               bool    `yaml:"fast_checkout"`
		FastCheckoutDelayMS        int64   `yaml:"fast_checkout_delay_ms"`
		CheckoutEntryURL           string  `yaml:"checkout_entry_url"`
		ConfirmFinalOrder          bool    `yaml:"confirm_final_order"`
		ConfirmationTimeoutSeconds int64   `yaml:"confirmation_timeout_seconds"`
		DryRun                     bool    `yaml:"dry_run"`
	} `yaml:"worker"`
	ListenAddr        string `yaml:"listen_addr"`
	DatabasePath      string `yaml:"database_path"`
	ProfileDir        string `yaml:"profile_dir"`
	ArtifactsDir      string `yaml:"artifacts_dir"`
	Headless          bool   `yaml:"headless"`
	BrowserControlURL string `yaml:"browser_control_url"`
	LocatorsFile      string `yaml:"locators_file"`
	RedisAddress      string `yaml:"redis_address"`
	SessionKey        string `yaml:"session_key"`
	MaxQueueDepth     int    `yaml:"max_queue_depth"`
	MaxActivityItems  int    `yaml:"max_activity_items"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load resolves the configuration. path may be empty. lookup may be nil,
// in which case the environment is ignored.
func Load(path string, lookup LookupFunc) (App, error) {
	f := fromApp(Default())

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return App{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty file decodes to io.EOF and keeps the defaults.
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return App{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if lookup != nil {
		if err := applyEnv(&f, lookup); err != nil {
			return App{}, err
		}
	}

	app := f.toApp()
	if err := Validate(app); err != nil {
		return App{}, err
	}
	return app, nil
}

// Validate checks an App the same way Load does.
func Validate(app App) error {
	if err := validate.Struct(app); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(f *file, lookup LookupFunc) error {
	w := &f.Worker
	t := &w.Timeouts
	ints := map[string]*int64{
		"TIMEOUT_MS_PAGE_LOAD":          &t.PageLoadMS,
		"TIMEOUT_MS_ELEMENT_VISIBLE":    &t.ElementVisibleMS,
		"TIMEOUT_MS_SELECTOR_CHECK":     &t.ProbeMS,
		"TIMEOUT_MS_AOD_PANEL":          &t.OfferDialogMS,
		"TIMEOUT_MS_BUYBOX_READY":       &t.BuyboxReadyMS,
		"TIMEOUT_MS_CART_CONFIRM":       &t.CartConfirmMS,
		"TIMEOUT_MS_CHECKOUT_READY":     &t.CheckoutReadyMS,
		"TIMEOUT_MS_CHECKOUT_LOAD":      &t.CheckoutLoadMS,
		"TIMEOUT_SECONDS_ORDER_CONFIRM": &w.ConfirmationTimeoutSeconds,
		"FAST_CHECKOUT_DELAY_MS":        &w.FastCheckoutDelayMS,
	}
	for key, dst := range ints {
		if raw, ok := lookup(key); ok {
			v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return fmt.Errorf("env %s: %w", key, err)
			}
			*dst = v
		}
	}

	smallInts := map[string]*int{
		"MAX_RETRIES":        &w.MaxRetries,
		"MAX_QUEUE_DEPTH":    &f.MaxQueueDepth,
		"MAX_ACTIVITY_ITEMS": &f.MaxActivityItems,
	}
	for key, dst := range smallInts {
		if raw, ok := lookup(key); ok {
			v, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("env %s: %w", key, err)
			}
			*dst = v
		}
	}

	if raw, ok := lookup("DELAY_SECONDS_RETRY"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("env DELAY_SECONDS_RETRY: %w", err)
		}
		w.RetryDelaySeconds = v
	}

	bools := map[string]*bool{
		"FAST_CHECKOUT":       &w.FastCheckout,
		"CONFIRM_FINAL_ORDER": &w.ConfirmFinalOrder,
		"DRY_RUN":             &w.DryRun,
		"HEADLESS":            &f.Headless,
	}
	for key, dst := range bools {
		if raw, ok := lookup(key); ok {
			v, err := parseBool(raw)
			if err != nil {
				return fmt.Errorf("env %s: %w", key, err)
			}
			*dst = v
		}
	}

	strs := map[string]*string{
		"CHECKOUT_ENTRY_URL":  &w.CheckoutEntryURL,
		"LISTEN_ADDR":         &f.ListenAddr,
		"DATABASE_PATH":       &f.DatabasePath,
		"PROFILE_DIR":         &f.ProfileDir,
		"ARTIFACTS_DIR":       &f.ArtifactsDir,
		"BROWSER_CONTROL_URL": &f.BrowserControlURL,
		"LOCATORS_FILE":       &f.LocatorsFile,
		"REDIS_ADDRESS":       &f.RedisAddress,
		"SESSION_KEY":         &f.SessionKey,
	}
	for key, dst := range strs {
		if raw, ok := lookup(key); ok {
			*dst = strings.TrimSpace(raw)
		}
	}
	return nil
}

// parseBool accepts the spellings operators actually put in .env files.
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", raw)
	}
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

func fromApp(a App) file {
	var f file
	w := a.Worker
	t := w.Timeouts
	f.Worker.Timeouts.PageLoadMS = t.PageLoad.Milliseconds()
	f.Worker.Timeouts.ElementVisibleMS = t.ElementVisible.Milliseconds()
	f.Worker.Timeouts.ProbeMS = t.Probe.Milliseconds()
	f.Worker.Timeouts.OfferDialogMS = t.OfferDialog.Milliseconds()
	f.Worker.Timeouts.BuyboxReadyMS = t.BuyboxReady.Milliseconds()
	f.Worker.Timeouts.CartConfirmMS = t.CartConfirm.Milliseconds()
	f.Worker.Timeouts.CheckoutReadyMS = t.CheckoutReady.Milliseconds()
	f.Worker.Timeouts.CheckoutLoadMS = t.CheckoutLoad.Milliseconds()
	f.Worker.MaxRetries = w.MaxRetries
	f.Worker.RetryDelaySeconds = w.RetryDelay.Seconds()
	f.Worker.FastCheckout = w.FastCheckout
	f.Worker.FastCheckoutDelayMS = w.FastCheckoutDelay.Milliseconds()
	f.Worker.CheckoutEntryURL = w.CheckoutEntryURL
	f.Worker.ConfirmFinalOrder = w.ConfirmFinalOrder
	f.Worker.ConfirmationTimeoutSeconds = int64(w.ConfirmationTimeout / time.Second)
	f.Worker.DryRun = w.DryRun
	f.ListenAddr = a.ListenAddr
	f.DatabasePath = a.DatabasePath
	f.ProfileDir = a.ProfileDir
	f.ArtifactsDir = a.ArtifactsDir
	f.Headless = a.Headless
	f.BrowserControlURL = a.BrowserControlURL
	f.LocatorsFile = a.LocatorsFile
	f.RedisAddress = a.RedisAddress
	f.SessionKey = a.SessionKey
	f.MaxQueueDepth = a.MaxQueueDepth
	f.MaxActivityItems = a.MaxActivityItems
	return f
}

func (f file) toApp() App {
	w := f.Worker
	t := w.Timeouts
	return App{
		Worker: Worker{
			Timeouts: Timeouts{
				PageLoad:       ms(t.PageLoadMS),
				ElementVisible: ms(t.ElementVisibleMS),
				Probe:          ms(t.ProbeMS),
				OfferDialog:    ms(t.OfferDialogMS),
				BuyboxReady:    ms(t.BuyboxReadyMS),
				CartConfirm:    ms(t.CartConfirmMS),
				CheckoutReady:  ms(t.CheckoutReadyMS),
				CheckoutLoad:   ms(t.CheckoutLoadMS),
			},
			MaxRetries:          w.MaxRetries,
			RetryDelay:          time.Duration(w.RetryDelaySeconds * float64(time.Second)),
			FastCheckout:        w.FastCheckout,
			FastCheckoutDelay:   ms(w.FastCheckoutDelayMS),
			CheckoutEntryURL:    w.CheckoutEntryURL,
			ConfirmFinalOrder:   w.ConfirmFinalOrder,
			ConfirmationTimeout: time.Duration(w.ConfirmationTimeoutSeconds) * time.Second,
			DryRun:              w.DryRun,
		},
		ListenAddr:        f.ListenAddr,
		DatabasePath:      f.DatabasePath,
		ProfileDir:        f.ProfileDir,
		ArtifactsDir:      f.ArtifactsDir,
		Headless:          f.Headless,
		BrowserControlURL: f.BrowserControlURL,
		LocatorsFile:      f.LocatorsFile,
		RedisAddress:      f.RedisAddress,
		SessionKey:        f.SessionKey,
		MaxQueueDepth:     f.MaxQueueDepth,
		MaxActivityItems:  f.MaxActivityItems,
	}
}
