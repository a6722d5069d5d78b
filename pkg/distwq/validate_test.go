package distwq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSubmission(t *testing.T) {
	assert.NoError(t, ValidateSubmission("do_work", 1.0))

	err := ValidateSubmission("", 1.0)
	assert.Error(t, err)
	var ci *ConfigInvalidError
	assert.ErrorAs(t, err, &ci)

	assert.Error(t, ValidateSubmission("do_work", 0))
	assert.Error(t, ValidateSubmission("do_work", -1))
}

func TestValidateRunnerConfigFieldRules(t *testing.T) {
	cfg := RunnerConfig{NprocsPerWorker: 1, ListenAddr: "127.0.0.1:9700"}
	assert.NoError(t, ValidateRunnerConfig(cfg))

	missingAddr := RunnerConfig{NprocsPerWorker: 1}
	assert.Error(t, ValidateRunnerConfig(missingAddr))

	zeroProcs := RunnerConfig{NprocsPerWorker: 0, ListenAddr: "127.0.0.1:9700"}
	assert.Error(t, ValidateRunnerConfig(zeroProcs))
}

func TestValidateRunnerConfigCrossFieldRule(t *testing.T) {
	cfg := RunnerConfig{
		NprocsPerWorker: 1,
		ListenAddr:      "127.0.0.1:9700",
		SpawnWorkers:    true,
		BrokerIsWorker:  true,
	}
	err := ValidateRunnerConfig(cfg)
	assert.Error(t, err)
	var ci *ConfigInvalidError
	assert.ErrorAs(t, err, &ci)
}
