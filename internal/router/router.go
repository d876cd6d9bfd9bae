package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"StillOK/internal/handler"
	"StillOK/internal/middleware"
)

func Register(h *server.Hertz) {
	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.CORSMiddleware())
	h.Use(middleware.OpenTelemetryMiddleware())

	v1 := h.Group("/v1")

	// 认证相关路由
	auth := v1.Group("/auth")
	auth.Use(middleware.AuthRateLimitMiddleware())
	{
		auth.POST("/token/refresh", handler.RefreshToken)

		captcha := auth.Group("/phone", middleware.CaptchaRateLimitMiddleware())
		{
			captcha.POST("/send-code", handler.SendCode)
			captcha.POST("/verify", handler.VerifyCode)
		}

		signOut := auth.Group("", middleware.AuthMiddleware(), middleware.SessionGuard())
		{
			signOut.POST("/sign-out", handler.SignOut)
		}
	}

	// 用户档案路由
	users := v1.Group("/users", middleware.AuthMiddleware(), middleware.SessionGuard())
	{
		users.GET("/me", handler.GetMe)
		users.PATCH("/me", middleware.SettingsRateLimitMiddleware(), handler.UpdateMe)
		users.PUT("/me/push-token", handler.RegisterPushToken)
		users.POST("/me/discovery-code/rotate", middleware.SettingsRateLimitMiddleware(), handler.RotateDiscoveryCode)
	}

	// 联系人路由
	contacts := v1.Group("/contacts", middleware.AuthMiddleware(), middleware.SessionGuard())
	{
		contacts.GET("", handler.ListContacts)
		contacts.POST("", handler.AddContact)
		contacts.DELETE("/:contact_id", handler.RemoveContact)
		contacts.PATCH("/:contact_id/role", handler.ToggleRole)
	}

	// 平安打卡路由
	checkIns := v1.Group("/check-ins", middleware.AuthMiddleware(), middleware.SessionGuard())
	{
		checkIns.GET("/status", handler.GetCheckInStatus)
		checkIns.POST("", handler.PerformCheckIn)
		checkIns.PUT("/interval", middleware.SettingsRateLimitMiddleware(), handler.SetCheckInInterval)
	}

	// 紧急求救
	alert := v1.Group("/alert", middleware.AuthMiddleware(), middleware.SessionGuard())
	{
		alert.PUT("", handler.SetEmergencyAlert)
	}

	// 问询路由
	pings := v1.Group("/pings", middleware.AuthMiddleware(), middleware.SessionGuard())
	{
		pings.GET("", handler.ListPings)
		pings.POST("", handler.SendPing)
		pings.POST("/:ping_id/respond", handler.RespondToPing)
		pings.POST("/:ping_id/cancel", handler.CancelPing)
		pings.POST("/clear-all", handler.ClearAllPings)
	}

	// 通知路由
	notifications := v1.Group("/notifications", middleware.AuthMiddleware(), middleware.SessionGuard())
	{
		notifications.GET("", handler.ListNotifications)
		notifications.POST("/read-all", handler.MarkAllNotificationsRead)
		notifications.POST("/:notification_id/read", handler.MarkNotificationRead)
	}
}
