package cmd

import (
	"strconv"
	"strings"
	"time"

	ishell "github.com/abiosoft/ishell"
	"github.com/jghoshh/duet/backend/models"
	"github.com/jghoshh/duet/frontend/client"
)

// boardCommands cover pairing, challenges and rewards.
func (a *App) boardCommands() []Command {
	return []Command{
		{
			Name: "dashboard",
			Desc: "Show your coins and challenges",
			Func: func(c *ishell.Context) {
				board, err := a.client.Dashboard()
				if err != nil {
					a.report(err)
					return
				}
				c.Print(renderBoard(board, time.Now()))
			},
		},
		{
			Name: "request",
			Desc: "Send a partner request",
			Func: func(c *ishell.Context) {
				username := argOr(c, 0, func() string {
					return readUntil(c, "Partner's Username: ", "Username cannot be empty.", nonEmpty)
				})
				if _, err := a.client.RequestPartner(username); err != nil {
					a.report(err)
					return
				}
				c.Printf("Partner request sent to %s.\n", username)
			},
		},
		{
			Name: "inbox",
			Desc: "List your notifications",
			Func: func(c *ishell.Context) {
				list, err := a.client.Notifications()
				if err != nil {
					a.report(err)
					return
				}
				if len(list) == 0 {
					c.Println("Your inbox is empty.")
					return
				}
				for _, n := range list {
					c.Print(renderNotification(n))
				}
			},
		},
		{
			Name: "accept",
			Desc: "Accept a partner request",
			Func: func(c *ishell.Context) {
				id, ok := a.pickPartnerRequest(c)
				if !ok {
					return
				}
				pair, err := a.client.AcceptPartner(id)
				if err != nil {
					a.report(err)
					return
				}
				c.Printf("You are now partnered with %s.\n", pair.Partner.Username)
			},
		},
		{
			Name: "dismiss",
			Desc: "Delete a notification, rejecting it if it is a partner request",
			Func: func(c *ishell.Context) {
				id := argOr(c, 0, func() string {
					return readUntil(c, "Notification id: ", "Id cannot be empty.", nonEmpty)
				})
				if err := a.client.DeleteNotification(id); err != nil {
					a.report(err)
					return
				}
				c.Println("Notification deleted.")
			},
		},
		{
			Name: "challenge",
			Desc: "Assign a challenge to your partner",
			Func: func(c *ishell.Context) {
				description := readUntil(c, "Description: ", "Description cannot be empty.", nonEmpty)
				difficulty := readUntil(c, "Difficulty (easy/medium/hard): ", "Difficulty must be easy, medium or hard.", func(s string) bool {
					return models.Difficulty(strings.ToLower(s)).Valid()
				})
				in := client.ChallengeInput{
					Description:   description,
					Difficulty:    models.Difficulty(strings.ToLower(difficulty)),
					Coins:         readCount(c, "Coins: ", 0),
					Deadline:      readDeadline(c),
					ProofRequired: yes(c, "Is proof required? (yes/no): "),
				}

				challenge, err := a.client.CreateChallenge(in)
				if err != nil {
					a.report(err)
					return
				}
				c.Printf("Challenge %s assigned.\n", challenge.ID.Hex())
			},
		},
		{
			Name: "complete",
			Desc: "Mark one of your challenges as completed",
			Func: func(c *ishell.Context) {
				id := argOr(c, 0, func() string {
					return readUntil(c, "Challenge id: ", "Id cannot be empty.", nonEmpty)
				})
				done, err := a.client.CompleteChallenge(id)
				if err != nil {
					a.report(err)
					return
				}
				c.Printf("Challenge completed. You now have %d coins.\n", done.Coins)
			},
		},
		{
			Name: "challenges",
			Desc: "List every challenge you own or assigned",
			Func: func(c *ishell.Context) {
				list, err := a.client.Challenges()
				if err != nil {
					a.report(err)
					return
				}
				if len(list) == 0 {
					c.Println("No challenges yet.")
					return
				}
				now := time.Now()
				for _, ch := range list {
					c.Print(renderChallenge(ch, now))
				}
			},
		},
		{
			Name: "rewards",
			Desc: "List the rewards you can redeem and the ones you offered",
			Func: func(c *ishell.Context) {
				mine, err := a.client.MyRewards()
				if err != nil {
					a.report(err)
					return
				}
				offered, err := a.client.OfferedRewards()
				if err != nil {
					a.report(err)
					return
				}

				now := time.Now()
				c.Println("Yours to redeem:")
				if len(mine) == 0 {
					c.Println("  none")
				}
				for _, r := range mine {
					c.Print(renderReward(r, now))
				}
				c.Println("Offered to your partner:")
				if len(offered) == 0 {
					c.Println("  none")
				}
				for _, r := range offered {
					c.Print(renderReward(r, now))
				}
			},
		},
		{
			Name: "reward",
			Desc: "Offer a reward to your partner",
			Func: func(c *ishell.Context) {
				rewardType := readUntil(c, "Type (gold/silver/diamond): ", "Type must be gold, silver or diamond.", func(s string) bool {
					return models.RewardType(strings.ToLower(s)).Valid()
				})
				in := client.RewardInput{
					RewardType:    models.RewardType(strings.ToLower(rewardType)),
					Description:   readUntil(c, "Description: ", "Description cannot be empty.", nonEmpty),
					CoinsRequired: readCount(c, "Coins required: ", 1),
					Deadline:      readDeadline(c),
				}

				reward, err := a.client.CreateReward(in)
				if err != nil {
					a.report(err)
					return
				}
				c.Printf("Reward %s offered.\n", reward.ID.Hex())
			},
		},
		{
			Name: "redeem",
			Desc: "Spend coins on a reward",
			Func: func(c *ishell.Context) {
				id := argOr(c, 0, func() string {
					return readUntil(c, "Reward id: ", "Id cannot be empty.", nonEmpty)
				})
				redemption, err := a.client.RedeemReward(id)
				if err != nil {
					a.report(err)
					return
				}
				if redemption.Expired {
					c.Println(redemption.Message)
					return
				}
				c.Printf("Reward redeemed. You have %d coins left.\n", redemption.Coins)
			},
		},
	}
}

// pickPartnerRequest returns the notification id given as argument, or the only
// pending partner request, or asks which one to accept.
func (a *App) pickPartnerRequest(c *ishell.Context) (string, bool) {
	if len(c.Args) > 0 {
		return c.Args[0], true
	}

	list, err := a.client.Notifications()
	if err != nil {
		a.report(err)
		return "", false
	}
	var requests []models.Notification
	for _, n := range list {
		if n.Type == models.NotificationPartnerRequest {
			requests = append(requests, n)
		}
	}

	switch len(requests) {
	case 0:
		c.Println("You have no partner requests.")
		return "", false
	case 1:
		return requests[0].ID.Hex(), true
	}

	names := make([]string, len(requests))
	for i, n := range requests {
		names[i] = n.SenderUsername
	}
	choice := c.MultiChoice(names, "Which request do you want to accept?")
	if choice < 0 {
		return "", false
	}
	return requests[choice].ID.Hex(), true
}

// argOr returns the i-th command argument, or asks for it.
func argOr(c *ishell.Context, i int, ask func() string) string {
	if len(c.Args) > i {
		return c.Args[i]
	}
	return ask()
}

func readCount(c *ishell.Context, prompt string, min int64) int64 {
	for {
		c.Print(prompt)
		n, err := strconv.ParseInt(strings.TrimSpace(c.ReadLine()), 10, 64)
		if err == nil && n >= min {
			return n
		}
		c.Printf("Please enter a whole number of at least %d.\n", min)
	}
}

func readDeadline(c *ishell.Context) time.Time {
	for {
		c.Print("Deadline (e.g. 3d, 12h or " + dateLayout + "): ")
		deadline, err := parseDeadline(c.ReadLine(), time.Now())
		if err == nil {
			return deadline
		}
		c.Println(err.Error())
	}
}
