package distwq

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// submission is the validator-tagged shape ValidateSubmission checks a
// call's arguments against, grounded on the pack's validators package shape
// (struct tags + a single shared validator instance).
type submission struct {
	Symbol  string  `validate:"required"`
	TimeEst float64 `validate:"gt=0"`
}

// ValidateSubmission checks a call's symbol/time_est, surfacing failures as
// ConfigInvalidError. It is a standalone check: SubmitTask does not call it
// and tests time_est > 0 itself.
func ValidateSubmission(symbol string, timeEst float64) error {
	s := submission{Symbol: symbol, TimeEst: timeEst}
	if err := validate.Struct(s); err != nil {
		return &ConfigInvalidError{Reason: err.Error()}
	}
	return nil
}

// runnerConfigValidation mirrors RunnerConfig's fields for struct-tag
// validation independent of the business-rule check in runner.go's
// validate() method (which encodes the cross-field spawn/broker rule the
// tag-based validator cannot express).
type runnerConfigValidation struct {
	NprocsPerWorker int    `validate:"gte=1"`
	ListenAddr      string `validate:"required"`
}

// ValidateRunnerConfig applies struct-tag validation to the fields that
// have an independent, per-field rule.
func ValidateRunnerConfig(cfg RunnerConfig) error {
	v := runnerConfigValidation{NprocsPerWorker: cfg.NprocsPerWorker, ListenAddr: cfg.ListenAddr}
	if err := validate.Struct(v); err != nil {
		return &ConfigInvalidError{Reason: err.Error()}
	}
	return cfg.validate()
}
