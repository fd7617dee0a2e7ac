package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"quickchat/internal/api"
	"quickchat/internal/config"
)

// AddUser asks the running server's admin API to create a user and prints
// the generated credentials.
func AddUser(email, fullName string, cfg *config.Config, out io.Writer) error {
	reqBody, err := json.Marshal(api.AddUserRequest{Email: email, FullName: fullName})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := client.Post(url, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.AddUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(out, "\nUser Created Successfully!\n")
	fmt.Fprintf(out, "ID:        %s\n", result.User.ID)
	fmt.Fprintf(out, "Email:     %s\n", result.User.Email)
	fmt.Fprintf(out, "Password:  %s\n", result.Password)
	fmt.Fprintf(out, "Login at:  %s\n\n", result.LoginURL)
	fmt.Fprintln(out, "Please share these credentials with the user and ask them to change the password.")
	return nil
}
