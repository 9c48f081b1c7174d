package frontend

import (
	"os"

	"github.com/jghoshh/duet/frontend/client"
	"github.com/jghoshh/duet/frontend/cmd"
	"github.com/joho/godotenv"
)

// defaultServerURL is used when SERVER_URL is not set.
const defaultServerURL = "http://localhost:8080"

// RunFrontend starts the interactive CLI against the backend named by SERVER_URL.
func RunFrontend() {
	// A missing frontend/.env is fine; the environment may already carry the settings.
	_ = godotenv.Load("frontend/.env")

	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		serverURL = defaultServerURL
	}

	api := client.New(serverURL, client.NewKeyring(os.Getenv("AUTH_TOKEN")))
	cmd.NewApp(api, client.NewChatCache()).Execute()
}
