package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) autoSubmit() error {
	n, err := cli.c.ExamSvc.AutoSubmitExpired(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("%d expired attempt(s) submitted\n", n)
	return nil
}
