package cmd

import (
	"strings"

	ishell "github.com/abiosoft/ishell"
	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/lib/utils"
)

// readUntil prompts until valid accepts the answer. invalid is printed after each rejected answer.
func readUntil(c *ishell.Context, prompt, invalid string, valid func(string) bool) string {
	for {
		c.Print(prompt)
		answer := strings.TrimSpace(c.ReadLine())
		if valid(answer) {
			return answer
		}
		c.Println(invalid)
	}
}

func nonEmpty(s string) bool { return s != "" }

// authCommands are the commands of a guest.
func (a *App) authCommands() []Command {
	return []Command{
		{
			Name: "signin",
			Desc: "Sign in to your account",
			Func: func(c *ishell.Context) {
				email := readUntil(c, "Enter Email: ", "Email is not valid.", utils.ValidateEmail)

				var password string
				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if len(password) > 0 {
						break
					}
					c.Println("Password cannot be empty.")
				}

				session, err := a.client.SignIn(email, password)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Welcome back, %s. You have %d coins.\n", session.User.Username, session.User.Coins)
				a.signedIn()
			},
		},
		{
			Name: "signup",
			Desc: "Sign up for a new account",
			Func: func(c *ishell.Context) {
				username := readUntil(c, "Enter Username: ", "Username must be longer than 1 character.", utils.ValidateUsername)
				email := readUntil(c, "Enter Email: ", "Email is not valid.", utils.ValidateEmail)

				var password string
				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if utils.ValidatePassword(password) {
						c.Print("Confirm Password: ")
						confirmPassword := c.ReadPassword()

						if password == confirmPassword {
							break
						}
						c.Println()
						c.Println("Passwords do not match. Please try again.")
						c.Println()
					} else {
						c.Println()
						c.Println("Password must be at least 8 characters and contain both letters and numbers.")
						c.Println()
					}
				}

				if _, err := a.client.SignUp(username, email, password); err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Account created successfully. You are now signed in.")
				c.Println("Please check your email and confirm your account using the 'confirm' command.")
				a.signedIn()
			},
		},
	}
}

// accountCommands manage the signed in account.
func (a *App) accountCommands() []Command {
	return []Command{
		{
			Name: "signout",
			Desc: "Sign out from your account",
			Func: func(c *ishell.Context) {
				if err := a.client.SignOut(); err != nil {
					a.report(err)
					return
				}
				c.Println("You are now signed out.")
				a.signedOut()
			},
		},
		{
			Name: "confirm",
			Desc: "Confirm your account with the token sent to your email",
			Func: func(c *ishell.Context) {
				token := readUntil(c, "Enter the confirmation token from your email: ", "Please enter the token.", nonEmpty)

				if err := a.client.ConfirmEmail(token); err != nil {
					a.report(err)
					return
				}
				c.Println("Account activated successfully. You can now access all features.")
			},
		},
		{
			Name: "profile",
			Desc: "Show or edit your profile",
			Func: func(c *ishell.Context) {
				account, err := a.client.Profile()
				if err != nil {
					a.report(err)
					return
				}
				c.Print(renderProfile(account))

				if !yes(c, "Do you want to edit your profile? (yes/no): ") {
					return
				}
				profile := account.Profile
				profile.FirstName = keep(c, "First name", profile.FirstName)
				profile.LastName = keep(c, "Last name", profile.LastName)
				profile.Bio = keep(c, "Bio", profile.Bio)
				profile.Location = keep(c, "Location", profile.Location)
				profile.Gender = keep(c, "Gender (Male/Female/Other)", profile.Gender)

				if _, err := a.client.UpdateProfile(profile); err != nil {
					a.report(err)
					return
				}
				c.Println("Profile updated successfully.")
			},
		},
	}
}

// yes asks a yes/no question until it gets one of the two.
func yes(c *ishell.Context, question string) bool {
	for {
		c.Print(question)
		response := strings.ToLower(strings.TrimSpace(c.ReadLine()))
		if response == "yes" || response == "no" {
			return response == "yes"
		}
		c.Println("Invalid response. Please type 'yes' or 'no'.")
	}
}

// keep prompts for a new value, returning current when the answer is empty.
func keep(c *ishell.Context, label, current string) string {
	c.Printf("%s [%s]: ", label, current)
	if answer := strings.TrimSpace(c.ReadLine()); answer != "" {
		return answer
	}
	return current
}

func (a *App) contact(c *ishell.Context) {
	email := readUntil(c, "Your Email: ", "Email is not valid.", utils.ValidateEmail)
	category := readUntil(c, "Category (general/bug/feedback): ", "Category cannot be empty.", nonEmpty)
	message := readUntil(c, "Message: ", "Message cannot be empty.", nonEmpty)

	if err := a.client.Contact(email, message, category); err != nil {
		utils.PrintError(err.Error())
		return
	}
	c.Println("Thanks, your message was sent.")
}

func renderProfile(account *models.Account) string {
	var b strings.Builder
	b.WriteString("Username: " + account.Username + "\n")
	b.WriteString("Email:    " + account.Email)
	if !account.EmailConfirmed {
		b.WriteString(" (unconfirmed)")
	}
	b.WriteString("\n")
	p := account.Profile
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name != "" {
		b.WriteString("Name:     " + name + "\n")
	}
	if p.Bio != "" {
		b.WriteString("Bio:      " + p.Bio + "\n")
	}
	if p.Location != "" {
		b.WriteString("Location: " + p.Location + "\n")
	}
	return b.String()
}
