package dto

import "github.com/google/uuid"

type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=50"`
	DisplayName string `json:"display_name" binding:"max=64"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	UserID         uuid.UUID `json:"user_id"`
	Token          string    `json:"token"`
	TokenExpiresAt string    `json:"token_expires_at"`
}

type UpdateProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required,max=64"`
}
