package main

import (
	"context"
	"fmt"

	"github.com/trezcool/academia/core/tenant"
)

func (cli *commandLine) addTenant(slug, name, currency string) error {
	nt := tenant.NewTenant{Slug: slug, Name: name, Currency: currency}
	if err := nt.Validate(cli.c.Validate); err != nil {
		return err
	}
	tnt, err := cli.c.TenantSvc.Create(context.Background(), nt)
	if err != nil {
		return err
	}
	fmt.Printf("tenant %q created (id: %s)\n", tnt.Slug, tnt.ID)
	return nil
}

func (cli *commandLine) listTenants(search string) error {
	tenants, err := cli.c.TenantSvc.Query(context.Background(), &tenant.QueryFilter{Search: search})
	if err != nil {
		return err
	}
	for _, tnt := range tenants {
		status := "active"
		if !tnt.IsActive {
			status = "inactive"
		}
		fmt.Printf("%-30s %-40s %s %s\n", tnt.Slug, tnt.Name, tnt.Currency, status)
	}
	return nil
}

func (cli *commandLine) setTenantActive(slug string, active bool) error {
	ctx := context.Background()
	tnt, err := cli.c.TenantSvc.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if _, err = cli.c.TenantSvc.SetActive(ctx, tnt.ID, active); err != nil {
		return err
	}
	fmt.Printf("tenant %q active: %t\n", tnt.Slug, active)
	return nil
}
