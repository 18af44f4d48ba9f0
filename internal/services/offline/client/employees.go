package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/repairhub/intake/internal/services/offline/domain"
)

// VerifiedEmployee is the result of an online PIN verification: the staff
// identity plus a bearer token for subsequent API calls.
type VerifiedEmployee struct {
	Employee domain.Employee
	Token    string
}

type verifyPINRequest struct {
	EmployeeID string `json:"employeeId,omitempty"`
	PIN        string `json:"pin"`
}

type verifyPINResponse struct {
	Employee struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"employee"`
	Token string `json:"token"`
}

// VerifyPIN checks a staff PIN against the server. An empty employeeID
// lets the server resolve the employee by PIN alone. On success the
// returned token is also installed on the client for subsequent calls.
func (c *Client) VerifyPIN(ctx context.Context, employeeID, pin string) (VerifiedEmployee, error) {
	if pin == "" {
		return VerifiedEmployee{}, fmt.Errorf("pin is required")
	}

	body, err := json.Marshal(verifyPINRequest{EmployeeID: employeeID, PIN: pin})
	if err != nil {
		return VerifiedEmployee{}, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/employees/verify-pin"), bytes.NewReader(body))
	if err != nil {
		return VerifiedEmployee{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpc.Do(req)
	if err != nil {
		return VerifiedEmployee{}, networkError("verify pin", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return VerifiedEmployee{}, classify(res.StatusCode, readErrorMessage(res.Body))
	}

	var decoded verifyPINResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return VerifiedEmployee{}, fmt.Errorf("decode verify response: %w", err)
	}
	if decoded.Employee.ID == "" || decoded.Token == "" {
		return VerifiedEmployee{}, fmt.Errorf("verify response missing employee or token")
	}

	verified := VerifiedEmployee{
		Employee: domain.Employee{
			ID:   decoded.Employee.ID,
			Name: decoded.Employee.Name,
			Role: decoded.Employee.Role,
		},
		Token: decoded.Token,
	}
	c.SetToken(verified.Token)
	return verified, nil
}
