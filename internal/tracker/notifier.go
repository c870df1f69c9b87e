package tracker

// Notification is the ongoing-trip notification content.
type Notification struct {
	Title       string
	Subtitle    string
	Chronometer bool
	Actions     []string
}

// NotificationSink renders the ongoing-trip notification.
type NotificationSink interface {
	Show(n Notification)
	Update(title, subtitle string)
	Hide()
}

// Listener observes biking state transitions. It is called after the
// machine released its lock, once per transition, in transition order.
type Listener interface {
	BikingStateChanged(prev, next BikingState)
}

type ListenerFunc func(prev, next BikingState)

func (f ListenerFunc) BikingStateChanged(prev, next BikingState) { f(prev, next) }

// StopAction is the notification action that ends the current trip.
const StopAction = "Stop"

type NotificationTexts struct {
	BikingTitle    string
	BikingSubtitle string
	GraceTitle     string
	GraceSubtitle  string
}

var DefaultNotificationTexts = NotificationTexts{
	BikingTitle:    "Biking",
	BikingSubtitle: "Trip in progress",
	GraceTitle:     "Paused",
	GraceSubtitle:  "Waiting to see if you ride again",
}

// Notifier shows the notification when a trip starts, hides it when it ends
// and switches its style in and out of grace.
type Notifier struct {
	Sink  NotificationSink
	Texts NotificationTexts

	shown bool
}

func NewNotifier(sink NotificationSink) *Notifier {
	return &Notifier{Sink: sink, Texts: DefaultNotificationTexts}
}

func (n *Notifier) BikingStateChanged(prev, next BikingState) {
	switch {
	case prev == NotBiking && next == Biking:
		n.Sink.Show(Notification{
			Title:       n.Texts.BikingTitle,
			Subtitle:    n.Texts.BikingSubtitle,
			Chronometer: true,
			Actions:     []string{StopAction},
		})
		n.shown = true
	case prev != NotBiking && next == NotBiking:
		n.Sink.Hide()
		n.shown = false
	case prev == Biking && next.InGracePeriod():
		if n.shown {
			n.Sink.Update(n.Texts.GraceTitle, n.Texts.GraceSubtitle)
		}
	case prev.InGracePeriod() && next == Biking:
		if n.shown {
			n.Sink.Update(n.Texts.BikingTitle, n.Texts.BikingSubtitle)
		}
	}
}
