package utils

import "github.com/slinet/ehsync/internal/database"

// GetResponse creates a standard API response
func GetResponse(data interface{}, code int, message string, total *int64) database.APIResponse {
	return database.APIResponse{
		Data:    data,
		Code:    code,
		Message: message,
		Total:   total,
	}
}
