// Package sha256 computes content digests of pricing databases.
package sha256

import (
	"bufio"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// Hasher implements pricedb.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Digest hashes the records in canonical order, so two databases holding the
// same records in a different completion order share a digest.
func (h *Hasher) Digest(db pricedb.Database) (string, error) {
	sorted := slices.Clone(db)
	slices.SortFunc(sorted, Compare)

	sum := sha256.New()
	w := bufio.NewWriter(sum)
	for _, r := range sorted {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Region, r.SKU, formatFloat(r.VCPU), formatFloat(r.RAM), formatFloat(r.Price)); err != nil {
			return "", fmt.Errorf("hash record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush digest: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Compare orders records by region, SKU, price, vCPU and RAM.
func Compare(a, b pricedb.Record) int {
	return cmp.Or(
		cmp.Compare(a.Region, b.Region),
		cmp.Compare(a.SKU, b.SKU),
		cmp.Compare(a.Price, b.Price),
		cmp.Compare(a.VCPU, b.VCPU),
		cmp.Compare(a.RAM, b.RAM),
	)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
