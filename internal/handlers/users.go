package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pliu/nowchat/internal/models"
)

type UserHandler struct {
	Store  Store
	Logger *slog.Logger
}

type UserRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, src, err := h.Store.Users(r.Context())
	if err != nil {
		writeError(w, orDefault(h.Logger), "Users could not be retrieved", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Users retrieved from " + string(src),
		Source:  string(src),
		Data:    users,
	})
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Invalid user id"})
		return
	}

	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, orDefault(h.Logger), "User could not be retrieved", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "User retrieved", Data: user})
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: err.Error()})
		return
	}
	if req.Username == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "username is required"})
		return
	}

	user := &models.User{Username: req.Username, Name: req.Name, Email: req.Email}
	res, err := h.Store.CreateUser(r.Context(), user)
	if err != nil {
		writeError(w, orDefault(h.Logger), "User could not be created", err)
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusOK, Response{Message: "User was not created", Data: res})
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "User created", Data: user})
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Invalid user id"})
		return
	}

	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: err.Error()})
		return
	}
	if req.Username == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "username is required"})
		return
	}

	user := &models.User{ID: id, Username: req.Username, Name: req.Name, Email: req.Email}
	res, err := h.Store.UpdateUser(r.Context(), user)
	if err != nil {
		writeError(w, orDefault(h.Logger), "User could not be updated", err)
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusOK, Response{Message: "User was not updated", Data: res})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "User updated", Data: user})
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Invalid user id"})
		return
	}

	res, err := h.Store.DeleteUser(r.Context(), id)
	if err != nil {
		writeError(w, orDefault(h.Logger), "User could not be deleted", err)
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusOK, Response{Message: "User was not deleted", Data: res})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "User deleted", Data: res})
}
