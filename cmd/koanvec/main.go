// Command koanvec trains CBOW/Skip-Gram word embeddings by negative
// sampling, or just builds a vocabulary file from a corpus.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexandres/koanvec/internal/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "koanvec",
	Short: "koanvec - CBOW/Skip-Gram word embedding trainer",
	Long: `koanvec trains word embeddings from a plain-text or gzipped corpus
using CBOW or Skip-Gram with negative sampling, driven by a lock-free
multi-threaded SGD engine.`,
}

func init() {
	rootCmd.AddCommand(vocabCmd)
	rootCmd.AddCommand(trainCmd)
}

var log = logging.Default()
