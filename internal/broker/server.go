package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

// Server is a reference relay for local development and integration tests.
// It fans intents out to every member of a conversation, stamps
// authoritative timestamps on message echoes, and replays bounded in-memory
// history on join. Nothing is ever persisted.
type Server struct {
	log        *log.Logger
	signingKey []byte
	srv        *http.Server
	upgrader   websocket.Upgrader

	convLock      sync.Mutex
	conversations map[string]*Conversation
}

func NewServer(logger *log.Logger, addr string, signingKey []byte) *Server {
	s := &Server{
		log:        logger,
		signingKey: signingKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conversations: make(map[string]*Conversation),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", s.createSession)
	mux.HandleFunc("POST /api/conversations", s.createConversation)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
	)(mux)
	h = handlers.LoggingHandler(logger.Writer(), h)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: h,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Printf("starting relay on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.convLock.Lock()
	for _, conv := range s.conversations {
		conv.stop()
	}
	s.conversations = make(map[string]*Conversation)
	s.convLock.Unlock()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}

const tokenTTL = 24 * time.Hour

type sessionRequest struct {
	UserId   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// createSession stands in for the external auth collaborator: it mints an
// opaque token the client presents on dial.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == "" {
		http.Error(w, "invalid session request", http.StatusBadRequest)
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user-id":   req.UserId,
		"user-name": req.UserName,
		"exp":       time.Now().Add(tokenTTL).Unix(),
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		s.log.Println("sign session token:", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": signed})
}

func (s *Server) verifyToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return "", fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(auth[len(prefix):], func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	userId, ok := claims["user-id"].(string)
	if !ok || userId == "" {
		return "", fmt.Errorf("invalid user id claim")
	}
	return userId, nil
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	id, err := shortid.Generate()
	if err != nil {
		s.log.Println("generate conversation id:", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.getConversation(id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"conversation_id": id})
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, err := s.verifyToken(r)
	if err != nil {
		s.log.Println("ws auth:", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convId := r.URL.Query().Get("conversation")
	if convId == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("upgrade:", err)
		return
	}

	conv := s.getConversation(convId)
	c := newClient(ws, conv, userId, s.log)
	conv.register <- c

	go c.write()
	go c.read()
}

func (s *Server) getConversation(id string) *Conversation {
	s.convLock.Lock()
	defer s.convLock.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		conv = newConversation(id, s.log)
		s.conversations[id] = conv
		go conv.run()
	}
	return conv
}
