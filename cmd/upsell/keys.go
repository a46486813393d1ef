package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

type keyName struct {
	Name string `positional-arg-name:"name" description:"Secret name (api_token, woocommerce_dsn, postgres_dsn)"`
}

type KeysListCommand struct {
	env *cliEnv
}

func (c *KeysListCommand) Execute([]string) error {
	names := c.env.vault.List()
	if c.env.globals.JSON {
		if names == nil {
			names = []string{}
		}
		return c.env.printJSON(names)
	}
	if len(names) == 0 {
		c.env.printf("No secrets stored\n")
		return nil
	}
	for _, n := range names {
		c.env.printf("  %s: ****\n", n)
	}
	return nil
}

type KeysSetCommand struct {
	Args keyName `positional-args:"yes" required:"yes"`

	env *cliEnv
}

func (c *KeysSetCommand) Execute([]string) error {
	name := strings.ToLower(c.Args.Name)
	secret, err := c.env.readSecret(fmt.Sprintf("Enter value for %s: ", name))
	if err != nil {
		return fmt.Errorf("reading secret: %w", err)
	}
	if secret == "" {
		return errors.New("empty secret")
	}
	if err := c.env.vault.Set(name, secret); err != nil {
		return err
	}
	c.env.printf("Secret %s stored\n", name)
	return nil
}

type KeysGetCommand struct {
	Reveal bool    `long:"reveal" description:"Print the secret in full"`
	Args   keyName `positional-args:"yes" required:"yes"`

	env *cliEnv
}

func (c *KeysGetCommand) Execute([]string) error {
	secret, err := c.env.vault.Get(strings.ToLower(c.Args.Name))
	if err != nil {
		return err
	}
	if !c.Reveal {
		secret = mask(secret)
	}
	c.env.printf("%s\n", secret)
	return nil
}

type KeysDeleteCommand struct {
	Args keyName `positional-args:"yes" required:"yes"`

	env *cliEnv
}

func (c *KeysDeleteCommand) Execute([]string) error {
	name := strings.ToLower(c.Args.Name)
	if err := c.env.vault.Delete(name); err != nil {
		return err
	}
	c.env.printf("Secret %s deleted\n", name)
	return nil
}

// readSecret reads without echo from a terminal, otherwise one line from
// the input stream.
func (e *cliEnv) readSecret(prompt string) (string, error) {
	if f, ok := e.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		e.printf("%s", prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		e.printf("\n")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(e.in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// mask keeps the first four characters of longer secrets.
func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", 8)
}
