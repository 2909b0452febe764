package commands

import (
	"context"
	"fmt"
	"gsexport/lib/browser"
	"gsexport/lib/platforms/gradescope/core"
)

// establishSession logs the http client in and hands its cookies to the
// browser so both share one authenticated session.
func establishSession(ctx context.Context, client *core.Client, driver browser.Driver) error {
	set, err := client.Login(ctx)
	if err != nil {
		return err
	}
	err = driver.SetCookies(ctx, client.BaseUrl, set)
	if err != nil {
		return fmt.Errorf("copy session into browser: %w", err)
	}
	return nil
}
