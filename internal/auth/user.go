package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"
)

// RoleAdmin users see every library directory.
const RoleAdmin = "admin"

// User represents a user account with hashed password
type User struct {
	Username string `toml:"username"`
	Password string `toml:"password"` // plaintext is hashed on load
	Role     string `toml:"role"`     // admin, user
	Created  string `toml:"created"`
}

// IsSuperuser reports whether the user bypasses directory permissions.
func (u *User) IsSuperuser() bool {
	return u.Role == RoleAdmin
}

// UserConfig represents the structure of users.toml
type UserConfig struct {
	Users []User `toml:"users"`
}

// UserStore keeps the accounts of users.toml in memory.
type UserStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	filePath string
	cost     int
}

// NewUserStore creates a new user store and loads users from the specified file
func NewUserStore(filePath string) (*UserStore, error) {
	return newUserStore(filePath, 12)
}

func newUserStore(filePath string, cost int) (*UserStore, error) {
	store := &UserStore{
		users:    make(map[string]*User),
		filePath: filePath,
		cost:     cost,
	}
	if err := store.loadUsers(); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return store, nil
}

// loadUsers loads users from the TOML file and hashes passwords if needed
func (us *UserStore) loadUsers() error {
	if _, err := os.Stat(us.filePath); os.IsNotExist(err) {
		return us.createDefaultUser()
	}

	var config UserConfig
	if _, err := toml.DecodeFile(us.filePath, &config); err != nil {
		return fmt.Errorf("failed to parse users file: %w", err)
	}

	needsSave := false
	for i := range config.Users {
		user := config.Users[i]
		if user.Username == "" {
			return fmt.Errorf("user %d has no username", i)
		}
		if !isHashedPassword(user.Password) {
			hashed, err := us.hash(user.Password)
			if err != nil {
				return fmt.Errorf("failed to hash password for user %s: %w", user.Username, err)
			}
			user.Password = hashed
			needsSave = true
		}
		us.users[user.Username] = &user
	}

	if needsSave {
		return us.save()
	}
	return nil
}

// createDefaultUser writes an admin account with a random password.
func (us *UserStore) createDefaultUser() error {
	password, err := generateRandomPassword(12)
	if err != nil {
		return fmt.Errorf("failed to generate default password: %w", err)
	}
	hashed, err := us.hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash default password: %w", err)
	}

	us.users["admin"] = &User{
		Username: "admin",
		Password: hashed,
		Role:     RoleAdmin,
		Created:  time.Now().Format("2006-01-02 15:04:05"),
	}
	if err := us.save(); err != nil {
		return err
	}

	fmt.Printf("\n"+
		"=====================================\n"+
		"DEFAULT ADMIN USER CREATED\n"+
		"=====================================\n"+
		"Username: admin\n"+
		"Password: %s\n"+
		"=====================================\n"+
		"Change it by editing %s\n\n", password, us.filePath)
	return nil
}

// save writes every user back to the TOML file, sorted by name.
func (us *UserStore) save() error {
	config := UserConfig{Users: make([]User, 0, len(us.users))}
	for _, u := range us.users {
		config.Users = append(config.Users, *u)
	}
	sort.Slice(config.Users, func(i, j int) bool {
		return config.Users[i].Username < config.Users[j].Username
	})

	file, err := os.OpenFile(us.filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create users file: %w", err)
	}
	defer file.Close()

	header := `# reelstream users
# Add a [[users]] section with a plaintext password; it is hashed on the next start.
# role = "admin" grants access to every library directory.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write users file header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode users to TOML: %w", err)
	}
	return nil
}

// Authenticate checks if the provided username and password are valid
func (us *UserStore) Authenticate(username, password string) bool {
	us.mu.RLock()
	user, exists := us.users[username]
	us.mu.RUnlock()
	if !exists {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil
}

// GetUser returns a user by username without the password hash.
func (us *UserStore) GetUser(username string) *User {
	us.mu.RLock()
	defer us.mu.RUnlock()

	user, exists := us.users[username]
	if !exists {
		return nil
	}
	return &User{Username: user.Username, Role: user.Role, Created: user.Created}
}

// RegisterUser adds a new user to the store and the file.
func (us *UserStore) RegisterUser(username, password, role string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	hashed, err := us.hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	us.mu.Lock()
	defer us.mu.Unlock()

	if _, exists := us.users[username]; exists {
		return fmt.Errorf("user already exists")
	}
	if role == "" {
		role = "user"
	}
	us.users[username] = &User{
		Username: username,
		Password: hashed,
		Role:     role,
		Created:  time.Now().Format("2006-01-02 15:04:05"),
	}
	return us.save()
}

func (us *UserStore) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), us.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// isHashedPassword checks if a password string is already a bcrypt hash
func isHashedPassword(password string) bool {
	return len(password) >= 4 &&
		password[0] == '$' &&
		password[1] == '2' &&
		(password[2] == 'a' || password[2] == 'b' || password[2] == 'x' || password[2] == 'y') &&
		password[3] == '$'
}

// generateRandomPassword generates a cryptographically secure random password
func generateRandomPassword(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:length], nil
}
