package cmd

import (
	"context"
	"strings"
	"time"

	ishell "github.com/abiosoft/ishell"
	"github.com/jghoshh/duet/lib/utils"
)

const leaveChat = "/quit"

func (a *App) chatCommands() []Command {
	return []Command{
		{
			Name: "chat",
			Desc: "Chat with your partner",
			Func: a.chat,
		},
		{
			Name: "clearchat",
			Desc: "Forget the chat messages kept in this session",
			Func: func(c *ishell.Context) {
				a.cache.Clear()
				c.Println("Chat history cleared.")
			},
		},
	}
}

func (a *App) chat(c *ishell.Context) {
	view, err := a.client.Partner()
	if err != nil {
		a.report(err)
		return
	}
	if !view.IsConnected {
		utils.PrintError("you need a partner to chat. Use 'request' to send a partner request.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := a.client.OpenChat(ctx, a.cache)
	if err != nil {
		a.report(err)
		return
	}
	defer conn.Close()

	roomID, err := conn.Join(ctx, view.ID, view.PartnerUserID)
	if err != nil {
		utils.PrintError(err.Error())
		return
	}

	c.Printf("Chatting with %s. Type %s to leave.\n", view.PartnerUsername, leaveChat)
	for _, msg := range a.cache.History(roomID) {
		c.Println(renderChat(msg, view.ID))
	}

	go func() {
		for msg := range conn.Messages() {
			if msg.RoomID == roomID && msg.SenderID != view.ID {
				c.Println(renderChat(msg, view.ID))
			}
		}
	}()

	for {
		line := strings.TrimSpace(c.ReadLine())
		if line == leaveChat {
			return
		}
		if line == "" {
			continue
		}
		select {
		case <-conn.Done():
			utils.PrintError("the chat connection was closed")
			return
		default:
		}
		if err := conn.Send(roomID, line); err != nil {
			utils.PrintError(err.Error())
			return
		}
	}
}
