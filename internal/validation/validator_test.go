package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginRequest struct {
	Name  string `json:"name" validate:"required,min=2,personname"`
	Email string `json:"email" validate:"required,email"`
}

type linkRequest struct {
	AccountID    string `json:"accountId" validate:"required,accountid"`
	ProductName  string `json:"productName" validate:"required,productname"`
	ProductPrice string `json:"productPrice" validate:"required,price"`
	DeviceID     string `json:"deviceID" validate:"required,deviceid"`
}

func TestValidateStruct_Valid(t *testing.T) {
	assert.Nil(t, ValidateStruct(loginRequest{Name: "Jane Doe", Email: "jane@example.com"}))
	assert.Nil(t, ValidateStruct(linkRequest{
		AccountID:    "acct_1ABC",
		ProductName:  "Coffee-Large_2 cups",
		ProductPrice: "12.50",
		DeviceID:     "a1b2-c3d4",
	}))
}

func TestValidateStruct_Messages(t *testing.T) {
	tests := []struct {
		name string
		req  any
		want []string
	}{
		{
			name: "missing login fields",
			req:  loginRequest{},
			want: []string{"Name is required.", "Email is required."},
		},
		{
			name: "short name and bad email",
			req:  loginRequest{Name: "J", Email: "nope"},
			want: []string{"Name must be at least 2 characters long.", "Invalid email address."},
		},
		{
			name: "name with digits",
			req:  loginRequest{Name: "Jane 2", Email: "jane@example.com"},
			want: []string{"Name must contain only letters and spaces."},
		},
		{
			name: "bad payment link input",
			req: linkRequest{
				AccountID:    "acct-1",
				ProductName:  "Coffee!",
				ProductPrice: "-3",
				DeviceID:     "dev_1",
			},
			want: []string{
				"Invalid Account ID...",
				"Invalid Product Name.",
				"Invalid Product Price. Must be a positive number.",
				"Invalid Device ID...",
			},
		},
		{
			name: "non numeric price",
			req:  linkRequest{AccountID: "acct_1", ProductName: "Coffee", ProductPrice: "abc", DeviceID: "d-1"},
			want: []string{"Invalid Product Price. Must be a positive number."},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verr := ValidateStruct(tc.req)
			require.NotNil(t, verr)

			var got []string
			for _, e := range verr.Errors() {
				got = append(got, e.Error())
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRequestValidationError_JoinsMessages(t *testing.T) {
	verr := ValidateStruct(loginRequest{})
	require.NotNil(t, verr)
	assert.Equal(t, "Name is required., Email is required.", verr.Error())
	assert.Equal(t, "name", verr.Errors()[0].Field())
	assert.Equal(t, "required", verr.Errors()[0].Tag())
}

func TestValidateDeviceID(t *testing.T) {
	assert.NoError(t, ValidateDeviceID("abc-123"))
	assert.EqualError(t, ValidateDeviceID(""), "Device ID is required.")
	assert.EqualError(t, ValidateDeviceID("abc 123"), "Invalid Device ID...")
}
