package api

import (
	"testing"

	"github.com/tax-connect/pos-connector/internal/platform/logger"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func init() {
	logger.InitLogger()
}

func TestController(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}
