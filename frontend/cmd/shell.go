package cmd

import (
	"errors"
	"fmt"
	"os"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"
	"github.com/jghoshh/duet/frontend/client"
	"github.com/jghoshh/duet/lib/utils"
)

// The Command struct defines a user command in the system. Each command has a Name, a Desc (short for description), and a Func (the function to execute when the command is called).
type Command struct {
	Name string                  // Name is the name of the command.
	Desc string                  // Desc is a short description of what the command does.
	Func func(c *ishell.Context) // Func is the function that is executed when the command is invoked.
}

// App is the interactive shell of the Duet CLI.
type App struct {
	shell  *ishell.Shell
	client *client.Client
	cache  *client.ChatCache

	// guestCommands are available to users who have not signed in.
	guestCommands []Command
	// userCommands are available only to signed in users.
	userCommands []Command
	// commonCommands are always available.
	commonCommands []Command

	loggedIn bool
}

// NewApp builds the shell around api. Chat history is kept in cache.
func NewApp(api *client.Client, cache *client.ChatCache) *App {
	a := &App{
		shell:  ishell.New(),
		client: api,
		cache:  cache,
	}

	a.guestCommands = a.authCommands()
	a.userCommands = append(a.accountCommands(), a.boardCommands()...)
	a.userCommands = append(a.userCommands, a.chatCommands()...)
	a.commonCommands = []Command{
		{
			Name: "contact",
			Desc: "Send a message to the Duet team",
			Func: a.contact,
		},
		{
			Name: "exit",
			Desc: "Exit the application",
			Func: func(c *ishell.Context) {
				fmt.Println("Goodbye!")
				os.Exit(0)
			},
		},
	}

	// The help command is created separately to avoid the cyclic dependency
	a.commonCommands = append(a.commonCommands, Command{
		Name: "help",
		Desc: "List available commands",
		Func: func(c *ishell.Context) {
			c.Println("Available commands:")
			c.Print(helpText(a.activeCommands(), a.commonCommands))
			c.Println()
		},
	})
	return a
}

func (a *App) activeCommands() []Command {
	if a.loggedIn {
		return a.userCommands
	}
	return a.guestCommands
}

func helpText(groups ...[]Command) string {
	var out string
	for _, commands := range groups {
		for _, command := range commands {
			out += "  |-- '" + command.Name + "' : " + command.Desc + "\n"
		}
	}
	return out
}

// addCommands is a helper function that adds the given commands to the shell.
//
// It accepts two arguments:
// - shell: The ishell shell where the commands will be added.
// - commands: A slice of Command structs to be added to the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: command.Desc,
			Func: command.Func,
		})
	}
}

func removeCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.DeleteCmd(command.Name)
	}
}

// signedIn swaps the guest commands for the user commands.
func (a *App) signedIn() {
	if a.loggedIn {
		return
	}
	a.loggedIn = true
	removeCommands(a.shell, a.guestCommands)
	addCommands(a.shell, a.userCommands)
}

// signedOut swaps the user commands for the guest commands and forgets cached chat.
func (a *App) signedOut() {
	a.cache.Clear()
	if !a.loggedIn {
		return
	}
	a.loggedIn = false
	removeCommands(a.shell, a.userCommands)
	addCommands(a.shell, a.guestCommands)
}

// report prints err, signing the user out when the backend no longer accepts the session.
func (a *App) report(err error) {
	if errors.Is(err, client.ErrSessionExpired) || errors.Is(err, client.ErrNotSignedIn) {
		utils.PrintError("Session expired, please sign in again by typing 'signin' in the terminal.")
		a.signedOut()
		return
	}
	utils.PrintError(err.Error())
}

// Execute is the main function that executes the shell.
// It welcomes the user, adds the commands matching the stored session, and runs the shell.
func (a *App) Execute() {
	a.shell.Println()
	figure.NewFigure("Duet", "basic", true).Print()
	a.shell.Println("Welcome to Duet -- challenges and rewards for two. Type 'help' to see a list of commands.")

	if err := a.client.Ping(); err != nil {
		utils.PrintError("the server is not reachable: " + err.Error())
	}

	addCommands(a.shell, a.commonCommands)
	signedIn, err := a.client.Session().IsUserAuthenticated()
	if err != nil {
		utils.PrintError(err.Error())
	}
	if signedIn {
		a.loggedIn = true
		addCommands(a.shell, a.userCommands)
		a.shell.Println("You are signed in.")
	} else {
		addCommands(a.shell, a.guestCommands)
	}

	a.shell.Run()
}
