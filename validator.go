package ch4nn337

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Custom validation for addresses that must be set.
func validNonZeroAddress(fl validator.FieldLevel) bool {
	address, ok := fl.Field().Interface().(common.Address)
	return ok && address != (common.Address{})
}

// Custom validation for Ethereum addresses given as strings.
func validEthAddress(fl validator.FieldLevel) bool {
	return common.IsHexAddress(fl.Field().String())
}

// validParty checks the role is one of the two parties.
func validParty(fl validator.FieldLevel) bool {
	party, ok := fl.Field().Interface().(Party)
	return ok && (party == PartyA || party == PartyB)
}

var (
	registerOnce sync.Once
	registerErr  error
)

// NewValidator registers the channel record validations on gin's binding
// engine. It is safe to call more than once.
func NewValidator() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
			return
		}

		if err := v.RegisterValidation("nonzero_addr", validNonZeroAddress); err != nil {
			registerErr = fmt.Errorf("failed to register validator for nonzero_addr: %w", err)
			return
		}

		if err := v.RegisterValidation("eth_addr", validEthAddress); err != nil {
			registerErr = fmt.Errorf("failed to register validator for eth_addr: %w", err)
			return
		}

		if err := v.RegisterValidation("party", validParty); err != nil {
			registerErr = fmt.Errorf("failed to register validator for party: %w", err)
			return
		}
	})
	return registerErr
}

// validateRecord checks the field-level rules of a channel record.
func validateRecord(rec *channelRecord) error {
	if err := NewValidator(); err != nil {
		return err
	}
	return binding.Validator.ValidateStruct(rec)
}
