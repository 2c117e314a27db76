package employee

import (
	"fmt"
	"strings"

	"github.com/jinzhu/configor"
	"github.com/shopspring/decimal"
)

type seedRecord struct {
	ID            string `yaml:"id" json:"id" required:"true"`
	FirstName     string `yaml:"first_name" json:"first_name"`
	LastName      string `yaml:"last_name" json:"last_name"`
	WalletAddress string `yaml:"wallet_address" json:"wallet_address" required:"true"`
	SalaryAmount  string `yaml:"salary_amount" json:"salary_amount" required:"true"`
	SalaryAsset   string `yaml:"salary_asset" json:"salary_asset" default:"USDT"`
	Network       string `yaml:"network" json:"network" required:"true"`
	Status        string `yaml:"status" json:"status" default:"ACTIVE"`
}

type seedFile struct {
	Employees []seedRecord `yaml:"employees" json:"employees"`
}

// LoadSeed reads employees from a YAML/JSON file for the in-memory directory.
func LoadSeed(path string) ([]Employee, error) {
	var file seedFile
	if err := configor.New(&configor.Config{Silent: true}).Load(&file, path); err != nil {
		return nil, fmt.Errorf("load employee seed %s: %w", path, err)
	}
	out := make([]Employee, 0, len(file.Employees))
	for _, r := range file.Employees {
		amount, err := decimal.NewFromString(r.SalaryAmount)
		if err != nil || !amount.IsPositive() {
			return nil, fmt.Errorf("employee %s: invalid salary_amount %q", r.ID, r.SalaryAmount)
		}
		if r.SalaryAsset == "" {
			r.SalaryAsset = "USDT"
		}
		if r.Status == "" {
			r.Status = StatusActive
		}
		out = append(out, Employee{
			ID:            r.ID,
			FirstName:     r.FirstName,
			LastName:      r.LastName,
			WalletAddress: r.WalletAddress,
			SalaryAmount:  amount,
			SalaryAsset:   strings.ToUpper(r.SalaryAsset),
			Network:       strings.ToUpper(r.Network),
			Status:        strings.ToUpper(r.Status),
		})
	}
	return out, nil
}
