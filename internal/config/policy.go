package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	MismatchConfirm = "confirm"
	MismatchHold    = "hold"
)

const DefaultReferencePattern = `(?i)\bORD[-_ #]?(\d{8,19})\b`

// Policy is the hot-reloadable business policy for checkout and payment reconciliation.
type Policy struct {
	Checkout CheckoutPolicy `mapstructure:"checkout"`
	Payment  PaymentPolicy  `mapstructure:"payment"`

	reference *regexp.Regexp
}

type CheckoutPolicy struct {
	ShippingFee int64 `mapstructure:"shippingFee"`
	// Zero disables free shipping.
	FreeShippingThreshold int64 `mapstructure:"freeShippingThreshold"`
}

type PaymentPolicy struct {
	AmountTolerance  int64  `mapstructure:"amountTolerance"`
	MismatchPolicy   string `mapstructure:"mismatchPolicy"`
	ReferencePattern string `mapstructure:"referencePattern"`
}

func DefaultPolicy() Policy {
	return Policy{
		Checkout: CheckoutPolicy{
			ShippingFee:           15_000,
			FreeShippingThreshold: 0,
		},
		Payment: PaymentPolicy{
			AmountTolerance:  100,
			MismatchPolicy:   MismatchConfirm,
			ReferencePattern: DefaultReferencePattern,
		},
	}
}

// ShippingFor returns the shipping fee for an order worth amount after discount.
func (c CheckoutPolicy) ShippingFor(amount int64) int64 {
	if c.FreeShippingThreshold > 0 && amount >= c.FreeShippingThreshold {
		return 0
	}
	return c.ShippingFee
}

// ReferenceRegexp returns the compiled correlation pattern.
func (p Policy) ReferenceRegexp() *regexp.Regexp {
	if p.reference != nil {
		return p.reference
	}
	return regexp.MustCompile(DefaultReferencePattern)
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) (*PolicyHolder, error) {
	compiled, err := compilePolicy(p)
	if err != nil {
		return nil, err
	}
	holder := &PolicyHolder{}
	holder.current.Store(compiled)
	return holder, nil
}

func NewPolicyHolder(cfg Config) (*PolicyHolder, error) {
	v := viper.New()

	if cfg.PolicyPath != "" {
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("checkout")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/orderflow")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ORDERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("checkout.shippingFee", defaults.Checkout.ShippingFee)
	v.SetDefault("checkout.freeShippingThreshold", defaults.Checkout.FreeShippingThreshold)
	v.SetDefault("payment.amountTolerance", defaults.Payment.AmountTolerance)
	v.SetDefault("payment.mismatchPolicy", defaults.Payment.MismatchPolicy)
	v.SetDefault("payment.referencePattern", defaults.Payment.ReferencePattern)

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	policy, err := readPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(policy)

	if found {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := readPolicy(v)
			if err != nil {
				log.Printf("[checkout-policy] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[checkout-policy] reloaded from %s", filepath.Base(e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	return h.current.Load().(Policy)
}

func readPolicy(v *viper.Viper) (Policy, error) {
	var p Policy
	if err := v.Unmarshal(&p); err != nil {
		return Policy{}, err
	}
	return compilePolicy(p)
}

func compilePolicy(p Policy) (Policy, error) {
	if err := validatePolicy(p); err != nil {
		return Policy{}, err
	}
	pattern := strings.TrimSpace(p.Payment.ReferencePattern)
	if pattern == "" {
		pattern = DefaultReferencePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Policy{}, fmt.Errorf("payment.referencePattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return Policy{}, errors.New("payment.referencePattern must capture the order reference")
	}
	p.Payment.ReferencePattern = pattern
	p.Payment.MismatchPolicy = strings.ToLower(strings.TrimSpace(p.Payment.MismatchPolicy))
	if p.Payment.MismatchPolicy == "" {
		p.Payment.MismatchPolicy = MismatchConfirm
	}
	p.reference = re
	return p, nil
}

func validatePolicy(p Policy) error {
	if p.Checkout.ShippingFee < 0 {
		return errors.New("checkout.shippingFee cannot be negative")
	}
	if p.Checkout.FreeShippingThreshold < 0 {
		return errors.New("checkout.freeShippingThreshold cannot be negative")
	}
	if p.Payment.AmountTolerance < 0 {
		return errors.New("payment.amountTolerance cannot be negative")
	}
	switch strings.ToLower(strings.TrimSpace(p.Payment.MismatchPolicy)) {
	case "", MismatchConfirm, MismatchHold:
	default:
		return fmt.Errorf("payment.mismatchPolicy %q is not supported", p.Payment.MismatchPolicy)
	}
	return nil
}
