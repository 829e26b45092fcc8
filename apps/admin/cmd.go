package main

import (
	"database/sql"
	"flag"
	"fmt"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/academia/apps/api/di"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp       = errors.New("help provided")
	errNoDatabase = errors.New("migrate requires the postgres storage")
)

type commandLine struct {
	db *sql.DB // nil with the in-memory storage
	c  *di.Container
	b  di.Backends
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix)")
	fmt.Println("  addtenant -slug SLUG -name NAME [-currency CUR] - create a tenant")
	fmt.Println("  tenants [-search TERM] - list the tenants")
	fmt.Println("  settenant -slug SLUG -active=true|false - activate or deactivate a tenant")
	fmt.Println("  adduser -tenant SLUG -username USERNAME -email EMAIL [-name NAME] [-admin] - create or update a user")
	fmt.Println("  resetpassword -tenant SLUG -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  autosubmit - submit the expired exam attempts")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addTenantCmd := flag.NewFlagSet("addtenant", flag.ContinueOnError)
	addTenantSlug := addTenantCmd.String("slug", "", "The tenant's slug, used to log in.")
	addTenantName := addTenantCmd.String("name", "", "The tenant's name.")
	addTenantCurrency := addTenantCmd.String("currency", "", "The tenant's currency (ISO 4217). Defaults to the configured currency.")

	tenantsCmd := flag.NewFlagSet("tenants", flag.ContinueOnError)
	tenantsSearch := tenantsCmd.String("search", "", "Filter the tenants by slug or name.")

	setTenantCmd := flag.NewFlagSet("settenant", flag.ContinueOnError)
	setTenantSlug := setTenantCmd.String("slug", "", "The tenant's slug.")
	setTenantActive := setTenantCmd.Bool("active", true, "Whether users of the tenant may log in.")

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserTenant := addUserCmd.String("tenant", "", "The tenant's slug.")
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's name. Defaults to the username.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant all the roles.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordTenant := resetPasswordCmd.String("tenant", "", "The tenant's slug.")
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "addtenant":
		if err := addTenantCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addTenantSlug == "" && *addTenantName == "" {
			addTenantCmd.Usage()
			return errHelp
		}
		return cli.addTenant(*addTenantSlug, *addTenantName, *addTenantCurrency)

	case "tenants":
		if err := tenantsCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.listTenants(*tenantsSearch)

	case "settenant":
		if err := setTenantCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *setTenantSlug == "" {
			setTenantCmd.Usage()
			return errHelp
		}
		return cli.setTenantActive(*setTenantSlug, *setTenantActive)

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserTenant == "" || (*addUserUname == "" && *addUserEmail == "") {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserTenant, *addUserName, *addUserUname, *addUserEmail, pwd, *addUserAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordTenant == "" || *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordTenant, *resetPasswordUname, pwd)

	case "autosubmit":
		return cli.autoSubmit()

	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(pwd), nil
}
